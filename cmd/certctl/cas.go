package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// casCmd groups the certificate authority subcommands.
func casCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cas",
		Short: "Manage certificate authorities",
	}
	cmd.AddCommand(casListCmd())
	cmd.AddCommand(casRegisterCmd())
	cmd.AddCommand(casStatusCmd())
	cmd.AddCommand(casStatsCmd())
	cmd.AddCommand(casChainCmd())
	return cmd
}

func casListCmd() *cobra.Command {
	var caType string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered certificate authorities",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if caType != "" {
				q.Set("ca_type", caType)
			}

			body, err := getJSON("/api/v1/cas?"+q.Encode(), http.StatusOK)
			if err != nil {
				return err
			}

			if output == "json" {
				fmt.Println(string(body))
				return nil
			}
			var result struct {
				CAs []struct {
					CAID       string    `json:"ca_id"`
					Name       string    `json:"ca_name"`
					Type       string    `json:"ca_type"`
					TrustLevel string    `json:"trust_level"`
					IsActive   bool      `json:"is_active"`
					CreatedAt  time.Time `json:"created_at"`
				} `json:"certificate_authorities"`
			}
			if err := json.Unmarshal(body, &result); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			for _, ca := range result.CAs {
				active := "active"
				if !ca.IsActive {
					active = "inactive"
				}
				fmt.Printf("%-40s %-24s %-14s trust=%-6s %s\n",
					ca.CAID, ca.Name, ca.Type, ca.TrustLevel, active)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&caType, "type", "", "Filter by CA type")
	return cmd
}

func casRegisterCmd() *cobra.Command {
	var (
		name       string
		caType     string
		certFile   string
		baseURL    string
		trustLevel string
	)
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a certificate authority",
		RunE: func(cmd *cobra.Command, args []string) error {
			certPEM, err := os.ReadFile(certFile)
			if err != nil {
				return fmt.Errorf("reading CA certificate: %w", err)
			}

			body, err := postJSON("/api/v1/cas", map[string]interface{}{
				"name":            name,
				"ca_type":         caType,
				"certificate_pem": string(certPEM),
				"base_url":        baseURL,
				"trust_level":     trustLevel,
			}, http.StatusCreated)
			if err != nil {
				return err
			}

			if output == "json" {
				fmt.Println(string(body))
				return nil
			}
			var result map[string]string
			if err := json.Unmarshal(body, &result); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			fmt.Printf("Registered CA %s\n", result["ca_id"])
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "CA name (required)")
	cmd.Flags().StringVar(&caType, "type", "internal", "CA type: internal, external, firs_approved, self_signed")
	cmd.Flags().StringVar(&certFile, "cert", "", "Path to the CA certificate PEM (required)")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Submission endpoint for external CAs")
	cmd.Flags().StringVar(&trustLevel, "trust", "", "Trust level: low, medium, high")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("cert")
	return cmd
}

func casStatusCmd() *cobra.Command {
	var activate, deactivate bool
	cmd := &cobra.Command{
		Use:   "status <ca-id>",
		Short: "Activate or deactivate a certificate authority",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if activate == deactivate {
				return fmt.Errorf("exactly one of --activate or --deactivate is required")
			}

			_, err := patchJSON("/api/v1/cas/"+url.PathEscape(args[0])+"/status",
				map[string]interface{}{"is_active": activate}, http.StatusOK)
			if err != nil {
				return err
			}
			state := "activated"
			if deactivate {
				state = "deactivated"
			}
			fmt.Printf("CA %s %s\n", args[0], state)
			return nil
		},
	}
	cmd.Flags().BoolVar(&activate, "activate", false, "Activate the CA")
	cmd.Flags().BoolVar(&deactivate, "deactivate", false, "Deactivate the CA")
	return cmd
}

func casStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show CA registry statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := getJSON("/api/v1/cas/statistics", http.StatusOK)
			if err != nil {
				return err
			}
			fmt.Println(string(body))
			return nil
		},
	}
}

func casChainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chain <ca-id>",
		Short: "Print a CA's certificate chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := getJSON("/api/v1/cas/"+url.PathEscape(args[0])+"/chain", http.StatusOK)
			if err != nil {
				return err
			}

			var result struct {
				Chain []string `json:"chain"`
			}
			if err := json.Unmarshal(body, &result); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			for _, c := range result.Chain {
				fmt.Print(c)
			}
			return nil
		},
	}
}
