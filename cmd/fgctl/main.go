package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jmerrifield20/fangate/internal/identity"
	"github.com/jmerrifield20/fangate/internal/textrisk"
	"github.com/jmerrifield20/fangate/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL  string
	adminToken string
	cfgFile    string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fgctl",
	Short: "fangate operator CLI",
	Long: `fgctl is the operator tool for a fangate deployment.

It dry-runs content through the text analyzer, inspects and resets
fingerprint trust, and mints admin tokens for the admin API.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.fgctl")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("fgctl")
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
		if adminToken == "" {
			adminToken = viper.GetString("token")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.fgctl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "fangate base URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&adminToken, "token", "", "admin bearer token (or FGCTL_TOKEN)")

	analyzeCmd.Flags().String("wordlist", "", "analyze locally against this wordlist instead of the server")
	analyzeCmd.Flags().Bool("no-profanity", false, "disable the profanity stage")
	analyzeCmd.Flags().Bool("blocklist", false, "enable the external blocklist stage (server only)")

	tokenCmd.Flags().String("secret", "", "admin JWT secret (or FGCTL_ADMIN_SECRET)")
	tokenCmd.Flags().String("issuer", "fangate", "token issuer; must match admin.issuer")
	tokenCmd.Flags().String("subject", "", "operator name recorded in audit logs")
	tokenCmd.Flags().Duration("ttl", 8*time.Hour, "token lifetime")

	submitCmd.Flags().String("fingerprint", "", "client fingerprint")
	submitCmd.Flags().String("sender", "", "sender display name")
	submitCmd.Flags().String("captcha-token", "", "captcha token for a challenged submission")

	trustCmd.AddCommand(trustGetCmd, trustResetCmd)
	rootCmd.AddCommand(analyzeCmd, normalizeCmd, trustCmd, tokenCmd, submitCmd, versionCmd)
}

func newClient() (*client.Client, error) {
	var opts []client.Option
	if adminToken != "" {
		opts = append(opts, client.WithBearerToken(adminToken))
	}
	opts = append(opts, client.WithUserAgent("fgctl/"+version))
	return client.New(serverURL, opts...)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ── analyze ──────────────────────────────────────────────────────────────────

var analyzeCmd = &cobra.Command{
	Use:   "analyze <text>",
	Short: "Dry-run text through the content analyzer",
	Long: `analyze scores text the way fangate would for a submission.

With --wordlist the analyzer runs locally with the default scoring policy;
otherwise the server's POST /api/v1/admin/analyze is called (admin token
required).`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		wordlist, _ := cmd.Flags().GetString("wordlist")
		noProfanity, _ := cmd.Flags().GetBool("no-profanity")
		blocklist, _ := cmd.Flags().GetBool("blocklist")

		if wordlist != "" {
			wl, err := textrisk.LoadWordlist(wordlist)
			if err != nil {
				return err
			}
			a, err := textrisk.NewAnalyzer(wl, textrisk.DefaultPolicy(), zap.NewNop())
			if err != nil {
				return err
			}
			ra := a.Filter(cmd.Context(), text, "fgctl", textrisk.Config{ProfanityEnabled: !noProfanity})
			return printAssessment(cmd.OutOrStdout(), textrisk.Normalize(text), ra.Passed, ra.Score,
				string(ra.Category), string(ra.Action), ra.Flags, ra.FilteredContent)
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		opts := client.AnalyzeOptions{ExternalBlocklistEnabled: blocklist}
		if noProfanity {
			off := false
			opts.ProfanityEnabled = &off
		}
		res, err := c.Analyze(cmd.Context(), text, opts)
		if err != nil {
			return fmt.Errorf("analyze: %w", err)
		}
		a := res.Assessment
		return printAssessment(cmd.OutOrStdout(), res.Normalized, a.Passed, a.Score, a.Category, a.Action, a.Flags, a.FilteredContent)
	},
}

func printAssessment(out io.Writer, normalized string, passed bool, score int, category, action string, flags []string, filtered string) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "normalized\t%s\n", normalized)
	fmt.Fprintf(w, "passed\t%t\n", passed)
	fmt.Fprintf(w, "score\t%d\n", score)
	fmt.Fprintf(w, "category\t%s\n", category)
	fmt.Fprintf(w, "action\t%s\n", action)
	if len(flags) > 0 {
		fmt.Fprintf(w, "flags\t%s\n", strings.Join(flags, ", "))
	}
	if filtered != "" {
		fmt.Fprintf(w, "filtered\t%s\n", filtered)
	}
	return w.Flush()
}

// ── normalize ────────────────────────────────────────────────────────────────

var normalizeCmd = &cobra.Command{
	Use:   "normalize <text>",
	Short: "Print the canonical form of text and the evasions detected",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n := textrisk.NormalizeText(strings.Join(args, " "))
		fmt.Fprintln(cmd.OutOrStdout(), n.Text)
		if len(n.Evasions) > 0 {
			ev := make([]string, len(n.Evasions))
			for i, e := range n.Evasions {
				ev[i] = string(e)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "evasions: %s\n", strings.Join(ev, ", "))
		}
		return nil
	},
}

// ── trust ────────────────────────────────────────────────────────────────────

var trustCmd = &cobra.Command{
	Use:   "trust",
	Short: "Inspect or reset fingerprint trust (admin token required)",
}

var trustGetCmd = &cobra.Command{
	Use:   "get <fingerprint>",
	Short: "Show a fingerprint's trust score and recent decisions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		rep, err := c.GetTrust(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("get trust: %w", err)
		}
		return printJSON(cmd.OutOrStdout(), rep)
	},
}

var trustResetCmd = &cobra.Command{
	Use:   "reset <fingerprint>",
	Short: "Clear a fingerprint's trust history back to neutral",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.ResetTrust(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("reset trust: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ trust reset for %s\n", args[0])
		return nil
	},
}

// ── token ────────────────────────────────────────────────────────────────────

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an admin JWT for the admin API",
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, _ := cmd.Flags().GetString("secret")
		if secret == "" {
			secret = viper.GetString("admin_secret")
		}
		issuer, _ := cmd.Flags().GetString("issuer")
		subject, _ := cmd.Flags().GetString("subject")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		if subject == "" {
			subject = os.Getenv("USER")
		}
		if subject == "" {
			return errors.New("--subject is required")
		}

		tokens, err := identity.NewAdminTokenIssuer(secret, issuer, ttl)
		if err != nil {
			return err
		}
		tok, err := tokens.Issue(subject, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

// ── submit ───────────────────────────────────────────────────────────────────

var submitCmd = &cobra.Command{
	Use:   "submit <target-id> <text>",
	Short: "Send a fan message through the full pipeline",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		fp, _ := cmd.Flags().GetString("fingerprint")
		sender, _ := cmd.Flags().GetString("sender")
		captchaToken, _ := cmd.Flags().GetString("captcha-token")

		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()

		res, err := c.Submit(ctx, args[0], client.Submission{
			Content:      strings.Join(args[1:], " "),
			SenderName:   sender,
			Fingerprint:  fp,
			CaptchaToken: captchaToken,
		})
		var apiErr *client.APIError
		switch {
		case errors.As(err, &apiErr) && apiErr.ChallengeRequired():
			fmt.Fprintln(cmd.OutOrStdout(), "challenge required: resubmit with --captcha-token")
			return nil
		case errors.As(err, &apiErr) && apiErr.RateLimited():
			fmt.Fprintf(cmd.OutOrStdout(), "rate limited (%s): retry after %s\n", apiErr.Code, apiErr.RetryAfter)
			return nil
		case err != nil:
			return fmt.Errorf("submit: %w", err)
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the fgctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "fgctl %s\n", version)
	},
}
