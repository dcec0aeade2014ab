// Command certctl is the operator CLI for the certificate manager
// daemon. It drives the daemon's HTTP API.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	apiURL  string
	output  string
	timeout time.Duration
)

var httpClient *http.Client

// Version information, set at build time via -ldflags.
var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "certctl",
		Short: "TaxPoynt certificate manager CLI",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if apiURL == "" {
				apiURL = os.Getenv("CERTCTL_API_URL")
			}
			if apiURL == "" {
				apiURL = "http://localhost:8450"
			}
			httpClient = &http.Client{Timeout: timeout}
		},
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "API endpoint URL (or set CERTCTL_API_URL)")
	rootCmd.PersistentFlags().StringVar(&output, "output", "text", "Output format: text, json")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")

	rootCmd.AddCommand(issueCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(getCmd())
	rootCmd.AddCommand(expiringCmd())
	rootCmd.AddCommand(renewCmd())
	rootCmd.AddCommand(revokeCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(casCmd())
	rootCmd.AddCommand(keysCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("certctl version %s\n", version)
		},
	}
}

// issueCmd issues a self-signed or FIRS certificate.
func issueCmd() *cobra.Command {
	var (
		commonName   string
		organization string
		country      string
		orgID        string
		certType     string
		validityDays int
		keySize      int
		firs         bool
	)
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a self-signed or FIRS e-invoicing certificate",
		RunE: func(cmd *cobra.Command, args []string) error {
			subject := map[string]interface{}{
				"common_name":       commonName,
				"organization_name": organization,
				"country_name":      country,
			}

			path := "/api/v1/certificates/self-signed"
			payload := map[string]interface{}{
				"subject":          subject,
				"organization_id":  orgID,
				"certificate_type": certType,
				"validity_days":    validityDays,
				"key_size":         keySize,
			}
			if firs {
				path = "/api/v1/certificates/firs"
				payload = map[string]interface{}{
					"organization":    subject,
					"organization_id": orgID,
					"validity_days":   validityDays,
				}
			}

			body, err := postJSON(path, payload, http.StatusCreated)
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
			fmt.Printf("Issued certificate %s\n", result["certificate_id"])
			return nil
		},
	}
	cmd.Flags().StringVar(&commonName, "cn", "", "Subject common name (required)")
	cmd.Flags().StringVar(&organization, "org", "", "Subject organization name")
	cmd.Flags().StringVar(&country, "country", "NG", "Subject country")
	cmd.Flags().StringVar(&orgID, "org-id", "", "Owning organization ID")
	cmd.Flags().StringVar(&certType, "type", "general", "Certificate type")
	cmd.Flags().IntVar(&validityDays, "days", 0, "Validity in days (0 uses the platform default)")
	cmd.Flags().IntVar(&keySize, "key-size", 0, "RSA key size in bits (0 uses the platform default)")
	cmd.Flags().BoolVar(&firs, "firs", false, "Issue a FIRS e-invoicing certificate")
	cmd.MarkFlagRequired("cn")
	return cmd
}

// listCmd lists stored certificates.
func listCmd() *cobra.Command {
	var (
		orgID    string
		certType string
		status   string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored certificates",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if orgID != "" {
				q.Set("organization_id", orgID)
			}
			if certType != "" {
				q.Set("certificate_type", certType)
			}
			if status != "" {
				q.Set("status", status)
			}

			body, err := getJSON("/api/v1/certificates?"+q.Encode(), http.StatusOK)
			if err != nil {
				return err
			}
			return printCertificateList(body)
		},
	}
	cmd.Flags().StringVar(&orgID, "org-id", "", "Filter by organization ID")
	cmd.Flags().StringVar(&certType, "type", "", "Filter by certificate type")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	return cmd
}

// getCmd fetches one certificate.
func getCmd() *cobra.Command {
	var pemOnly bool
	cmd := &cobra.Command{
		Use:   "get <certificate-id>",
		Short: "Show one certificate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := getJSON("/api/v1/certificates/"+url.PathEscape(args[0]), http.StatusOK)
			if err != nil {
				return err
			}

			if pemOnly {
				var result struct {
					CertificatePEM string `json:"certificate_pem"`
				}
				if err := json.Unmarshal(body, &result); err != nil {
					return fmt.Errorf("parsing response: %w", err)
				}
				fmt.Print(result.CertificatePEM)
				return nil
			}

			fmt.Println(string(body))
			return nil
		},
	}
	cmd.Flags().BoolVar(&pemOnly, "pem", false, "Print only the PEM certificate")
	return cmd
}

// expiringCmd lists certificates close to expiry.
func expiringCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "expiring",
		Short: "List certificates expiring inside a window",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := getJSON(fmt.Sprintf("/api/v1/certificates/expiring?days=%d", days), http.StatusOK)
			if err != nil {
				return err
			}
			return printCertificateList(body)
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "Expiry window in days")
	return cmd
}

// renewCmd renews a certificate.
func renewCmd() *cobra.Command {
	var (
		days     int
		reuseKey bool
	)
	cmd := &cobra.Command{
		Use:   "renew <certificate-id>",
		Short: "Renew a certificate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := postJSON("/api/v1/certificates/"+url.PathEscape(args[0])+"/renew",
				map[string]interface{}{"validity_days": days, "reuse_key": reuseKey}, http.StatusOK)
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
			fmt.Printf("Renewed as %s\n", result["new_certificate_id"])
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "Validity in days (0 uses the platform default)")
	cmd.Flags().BoolVar(&reuseKey, "reuse-key", false, "Keep the existing private key")
	return cmd
}

// revokeCmd revokes a certificate.
func revokeCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "revoke <certificate-id>",
		Short: "Revoke a certificate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if reason == "" {
				return fmt.Errorf("--reason is required")
			}
			_, err := postJSON("/api/v1/certificates/"+url.PathEscape(args[0])+"/revoke",
				map[string]interface{}{"reason": reason}, http.StatusOK)
			if err != nil {
				return err
			}
			fmt.Printf("Revoked %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Revocation reason (required)")
	cmd.MarkFlagRequired("reason")
	return cmd
}

// eventsCmd shows the lifecycle audit trail.
func eventsCmd() *cobra.Command {
	var (
		certID string
		action string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show lifecycle events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if certID != "" {
				q.Set("certificate_id", certID)
			}
			if action != "" {
				q.Set("action", action)
			}
			if limit > 0 {
				q.Set("limit", fmt.Sprintf("%d", limit))
			}

			body, err := getJSON("/api/v1/lifecycle/events?"+q.Encode(), http.StatusOK)
			if err != nil {
				return err
			}

			if output == "json" {
				fmt.Println(string(body))
				return nil
			}
			var result struct {
				Events []struct {
					Timestamp     time.Time `json:"timestamp"`
					Action        string    `json:"action"`
					CertificateID string    `json:"certificate_id"`
					Success       bool      `json:"success"`
					ErrorMessage  string    `json:"error_message"`
				} `json:"events"`
			}
			if err := json.Unmarshal(body, &result); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			for _, e := range result.Events {
				status := "ok"
				if !e.Success {
					status = "FAILED: " + e.ErrorMessage
				}
				fmt.Printf("%s  %-20s %-24s %s\n",
					e.Timestamp.Format(time.RFC3339), e.Action, e.CertificateID, status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&certID, "certificate-id", "", "Filter by certificate ID")
	cmd.Flags().StringVar(&action, "action", "", "Filter by action")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum events to show")
	return cmd
}

// keysCmd lists stored key files.
func keysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "List stored key files",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := getJSON("/api/v1/keys", http.StatusOK)
			if err != nil {
				return err
			}

			if output == "json" {
				fmt.Println(string(body))
				return nil
			}
			var result struct {
				Keys []struct {
					Path        string    `json:"path"`
					Size        int64     `json:"size"`
					Modified    time.Time `json:"modified"`
					IsEncrypted bool      `json:"is_encrypted"`
				} `json:"keys"`
			}
			if err := json.Unmarshal(body, &result); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			for _, k := range result.Keys {
				enc := ""
				if k.IsEncrypted {
					enc = "  (encrypted)"
				}
				fmt.Printf("%s  %8d  %s%s\n", k.Modified.Format(time.RFC3339), k.Size, k.Path, enc)
			}
			return nil
		},
	}
}

// getJSON issues a GET and checks the expected status.
func getJSON(path string, want int) ([]byte, error) {
	resp, err := httpClient.Get(apiURL + path)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != want {
		return nil, errorFromResponse(resp.StatusCode, body)
	}
	return body, nil
}

// postJSON issues a POST with a JSON payload and checks the expected
// status.
func postJSON(path string, payload interface{}, want int) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	resp, err := httpClient.Post(apiURL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != want {
		return nil, errorFromResponse(resp.StatusCode, body)
	}
	return body, nil
}

// patchJSON issues a PATCH with a JSON payload and checks the
// expected status.
func patchJSON(path string, payload interface{}, want int) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPatch, apiURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != want {
		return nil, errorFromResponse(resp.StatusCode, body)
	}
	return body, nil
}

func errorFromResponse(status int, body []byte) error {
	var apiErr struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Code != "" {
		return fmt.Errorf("%s: %s (HTTP %d)", apiErr.Code, apiErr.Message, status)
	}
	return fmt.Errorf("unexpected HTTP status %d", status)
}

func printCertificateList(body []byte) error {
	if output == "json" {
		fmt.Println(string(body))
		return nil
	}

	var result struct {
		Certificates []struct {
			CertificateID string    `json:"certificate_id"`
			SubjectCN     string    `json:"subject_cn"`
			Status        string    `json:"status"`
			NotAfter      time.Time `json:"not_after"`
		} `json:"certificates"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	for _, c := range result.Certificates {
		fmt.Printf("%-40s %-30s %-10s expires %s\n",
			c.CertificateID, c.SubjectCN, c.Status, c.NotAfter.Format("2006-01-02"))
	}
	return nil
}
