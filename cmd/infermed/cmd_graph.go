package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/infermed/backend/internal/app"
	"github.com/infermed/backend/internal/kg/neo4j"
	appLogger "github.com/infermed/backend/pkg/logger"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Maintain the drug knowledge graph",
}

var graphLoadCmd = &cobra.Command{
	Use:   "load <profiles.yaml>",
	Short: "Merge drug profiles (enzymes, targets, pathways) into Neo4j",
	Long: "Merge drug profiles into Neo4j. The file maps drug names to profiles:\n\n" +
		"  warfarin:\n" +
		"    enzymes:\n" +
		"      - {enzyme: cyp2c9, relationship: METABOLIZED_BY}\n" +
		"    targets:\n" +
		"      - {id: P00734, name: Prothrombin}\n\n" +
		"Loading is idempotent.",
	Args: cobra.ExactArgs(1),
	RunE: runGraphLoad,
}

func init() {
	graphCmd.AddCommand(graphLoadCmd)
}

// readProfiles parses a profile file into drug-ordered entries.
func readProfiles(path string) ([]string, map[string]neo4j.Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read profiles: %w", err)
	}
	profiles := map[string]neo4j.Profile{}
	if err := yaml.Unmarshal(data, &profiles); err != nil {
		return nil, nil, fmt.Errorf("parse profiles: %w", err)
	}
	drugs := make([]string, 0, len(profiles))
	for d := range profiles {
		drugs = append(drugs, d)
	}
	sort.Strings(drugs)
	return drugs, profiles, nil
}

func runGraphLoad(cmd *cobra.Command, args []string) error {
	drugs, profiles, err := readProfiles(args[0])
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a := app.Bare(cfg, appLogger.GetLogger())
	client, err := a.OpenGraph()
	if err != nil {
		return fmt.Errorf("connect to graph: %w", err)
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	for _, drug := range drugs {
		if err := client.LoadProfile(cmd.Context(), drug, profiles[drug]); err != nil {
			return fmt.Errorf("load %s: %w", drug, err)
		}
		p := profiles[drug]
		fmt.Fprintf(out, "%-20s enzymes=%d targets=%d pathways=%d\n", drug, len(p.Enzymes), len(p.Targets), len(p.Pathways))
	}
	fmt.Fprintf(out, "Loaded %d drug profiles\n", len(drugs))
	return nil
}
