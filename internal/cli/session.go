package cli

import (
	"github.com/spf13/cobra"

	"pearl-sniper/internal/app"
)

var (
	sessionCookie    string
	sessionUserAgent string
	sessionToken     string
	sessionUserNo    string
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage the stored session lease",
}

var sessionImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Store a freshly captured session lease",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ImportSessionOptions{
			Cookie:            sessionCookie,
			UserAgent:         sessionUserAgent,
			VerificationToken: sessionToken,
			UserNo:            sessionUserNo,
		}
		return getApp().ImportSession(opts)
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the stored session lease",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ShowSession()
	},
}

func init() {
	sessionImportCmd.Flags().StringVar(&sessionCookie, "cookie", "", "Session cookie header value")
	sessionImportCmd.Flags().StringVar(&sessionUserAgent, "user-agent", "", "User agent the session was captured with")
	sessionImportCmd.Flags().StringVar(&sessionToken, "token", "", "Request verification token")
	sessionImportCmd.Flags().StringVar(&sessionUserNo, "user-no", "", "Account user number (optional)")

	sessionCmd.AddCommand(sessionImportCmd)
	sessionCmd.AddCommand(sessionShowCmd)
}
