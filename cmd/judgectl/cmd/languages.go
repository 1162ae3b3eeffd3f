package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

type languageEntry struct {
	Key          string `json:"key"`
	Name         string `json:"name"`
	DisplayOrder int    `json:"display_order"`
}

// NewLanguagesCommand lists the dispatcher's merged language catalog.
func NewLanguagesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "languages",
		Short: "List the languages currently advertised by connected workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, _ := cmd.Flags().GetString("url")

			resp, err := http.Get(url + "/languages")
			if err != nil {
				return fmt.Errorf("failed to reach dispatcher: %w", err)
			}
			defer resp.Body.Close()

			var catalog map[string]languageEntry
			if err := json.NewDecoder(resp.Body).Decode(&catalog); err != nil {
				return fmt.Errorf("failed to decode language catalog: %w", err)
			}

			entries := make([]languageEntry, 0, len(catalog))
			for key, entry := range catalog {
				if entry.Key == "" {
					entry.Key = key
				}
				entries = append(entries, entry)
			}
			sort.Slice(entries, func(i, j int) bool { return entries[i].DisplayOrder < entries[j].DisplayOrder })

			bold := color.New(color.Bold)
			for _, entry := range entries {
				bold.Printf("%-15s", entry.Key)
				fmt.Printf(" %s\n", entry.Name)
			}
			return nil
		},
	}
}
