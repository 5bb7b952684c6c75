package main

import (
	"fmt"
	"io"
	"net/url"

	"github.com/mdp/qrterminal/v3"
	"github.com/pquerna/otp/totp"
	"github.com/spf13/cobra"

	"pkt.systems/tether/internal/appconfig"
)

const totpIssuer = "tether"

func newPairCmd() *cobra.Command {
	var cfgPath string
	var withTOTP bool
	var account string
	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Print a QR code for pairing a device with the peer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			link, err := pairingURL(cfg.Peer.URL, cfg.Peer.Token)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printPairing(out, link)
			if !withTOTP {
				return nil
			}
			secret, otpURL, err := generateTOTP(account)
			if err != nil {
				return err
			}
			printEnrollment(out, secret, otpURL)
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().BoolVar(&withTOTP, "totp", false, "also generate a TOTP secret for peer authentication")
	cmd.Flags().StringVar(&account, "account", "device", "TOTP account name")
	return cmd
}

// pairingURL is the peer URL with the token carried as a query parameter.
func pairingURL(peerURL, token string) (string, error) {
	u, err := url.Parse(peerURL)
	if err != nil {
		return "", fmt.Errorf("invalid peer url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid peer url %q", peerURL)
	}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func generateTOTP(account string) (string, string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      totpIssuer,
		AccountName: account,
	})
	if err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}

func printPairing(w io.Writer, link string) {
	_, _ = fmt.Fprintf(w, "peer_url: %s\n", link)
	_, _ = fmt.Fprintln(w, "peer_qr:")
	qrterminal.GenerateHalfBlock(link, qrterminal.L, w)
}

func printEnrollment(w io.Writer, secret, otpURL string) {
	_, _ = fmt.Fprintf(w, "totp_secret: %s\n", secret)
	_, _ = fmt.Fprintf(w, "otpauth_url: %s\n", otpURL)
	_, _ = fmt.Fprintln(w, "totp_qr:")
	qrterminal.GenerateHalfBlock(otpURL, qrterminal.L, w)
	_, _ = fmt.Fprintln(w, "set peer.totp_secret (client) and mock_peer.totp_secret (peer) to the secret above")
}
