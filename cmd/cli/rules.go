package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"boardflow/internal/config"
	"boardflow/internal/services"
)

var (
	ruleFile string
	boardID  string
)

var dryRunCmd = &cobra.Command{
	Use:   "dry-run",
	Short: "Predict what a rule file would do on a board without changing anything",
	RunE:  dryRun,
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Create the rules described in a YAML file",
	RunE:  importRules,
}

func init() {
	for _, c := range []*cobra.Command{dryRunCmd, importCmd} {
		c.Flags().StringVarP(&ruleFile, "rule", "r", "", "YAML rule file (a single rule or a list)")
		c.Flags().StringVarP(&boardID, "board", "b", "", "board id; overrides board_id in the file")
		_ = c.MarkFlagRequired("rule")
		rootCmd.AddCommand(c)
	}
}

// parseRuleFile accepts either one rule mapping or a sequence of them.
func parseRuleFile(data []byte) ([]services.RuleRequest, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("parse rule file: %w", err)
	}
	if node.Kind != yaml.DocumentNode || len(node.Content) == 0 {
		return nil, fmt.Errorf("rule file is empty")
	}

	root := node.Content[0]
	switch root.Kind {
	case yaml.MappingNode:
		var req services.RuleRequest
		if err := root.Decode(&req); err != nil {
			return nil, fmt.Errorf("decode rule: %w", err)
		}
		return []services.RuleRequest{req}, nil
	case yaml.SequenceNode:
		var reqs []services.RuleRequest
		if err := root.Decode(&reqs); err != nil {
			return nil, fmt.Errorf("decode rules: %w", err)
		}
		return reqs, nil
	default:
		return nil, fmt.Errorf("rule file must hold a mapping or a list, line %d", root.Line)
	}
}

func loadRuleFile() ([]services.RuleRequest, error) {
	data, err := os.ReadFile(ruleFile)
	if err != nil {
		return nil, err
	}
	reqs, err := parseRuleFile(data)
	if err != nil {
		return nil, err
	}
	for i := range reqs {
		if boardID != "" {
			reqs[i].BoardID = boardID
		}
	}
	return reqs, nil
}

func dryRun(cmd *cobra.Command, args []string) error {
	reqs, err := loadRuleFile()
	if err != nil {
		return err
	}

	cfg := config.Load()
	logrus.SetLevel(logrus.WarnLevel)

	ctx := context.Background()
	a, err := newApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.close()

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	for _, req := range reqs {
		result, err := a.engine.DryRunRule(ctx, req.Rule(), req.BoardID)
		if err != nil {
			return fmt.Errorf("dry run %q: %w", req.Name, err)
		}
		if err := enc.Encode(result); err != nil {
			return err
		}
	}
	return nil
}

func importRules(cmd *cobra.Command, args []string) error {
	reqs, err := loadRuleFile()
	if err != nil {
		return err
	}

	cfg := config.Load()
	if err := config.InitLogger(cfg); err != nil {
		return err
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.close()

	for i := range reqs {
		rule, err := a.rules.CreateRule(ctx, &reqs[i])
		if err != nil {
			return fmt.Errorf("rule %d (%q): %w", i+1, reqs[i].Name, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created %s %s\n", rule.ID, rule.Name)
	}
	return nil
}
