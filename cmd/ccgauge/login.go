package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/ccgauge/ccgauge/internal/secrets"
	"github.com/ccgauge/ccgauge/internal/ws"
)

const remoteTimeout = 5 * time.Second

var (
	loginSessionKey string
	loginOrgID      string
	loginClearance  string
	credsOffline    bool
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store the claude.ai session cookie used for usage polling",
	Long: `Store the sessionKey cookie (and optionally the organization id and
Cloudflare clearance cookie) used for usage polling.

When a serve is running at the configured address the credentials are
handed to it, and it restarts polling with them right away. Otherwise
they are written to the secret store. When --org is omitted the
organization is discovered on the next fetch.

Examples:
  ccgauge login --session-key sk-ant-sid01-...
  ccgauge login --session-key sk-ant-sid01-... --org 1b2c... --cf-clearance abc...`,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove stored usage credentials",
	Long: `Remove the stored usage credentials. A running serve stops polling.`,
	RunE: runLogout,
}

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	loginCmd.Flags().StringVar(&loginSessionKey, "session-key", "", "sessionKey cookie value")
	loginCmd.Flags().StringVar(&loginOrgID, "org", "", "Organization UUID")
	loginCmd.Flags().StringVar(&loginClearance, "cf-clearance", "", "cf_clearance cookie value")
	_ = loginCmd.MarkFlagRequired("session-key")
	for _, c := range []*cobra.Command{loginCmd, logoutCmd} {
		c.Flags().BoolVar(&credsOffline, "offline", false, "Write the secret store directly, bypassing a running server")
	}
}

// applyLogin hands the credentials to a running server, or writes them to
// store when none is listening. remote reports whether a server answered.
// client may be nil to skip the server.
func applyLogin(ctx context.Context, client *serverClient, store secrets.Store, req ws.CredentialsRequest) (remote bool, err error) {
	if req.SessionKey == "" {
		return false, errors.New("--session-key must not be empty")
	}
	if client != nil {
		_, err := client.do(ctx, http.MethodPut, "/api/usage/credentials", req)
		if !errors.Is(err, errServerUnavailable) {
			return true, err
		}
	}
	return false, secrets.SaveCredentials(store, req.SessionKey, req.OrganizationID, req.CFClearance)
}

// applyLogout clears credentials through a running server, or directly in
// store when none is listening.
func applyLogout(ctx context.Context, client *serverClient, store secrets.Store) (remote bool, err error) {
	if client != nil {
		_, err := client.do(ctx, http.MethodDelete, "/api/usage/credentials", nil)
		if !errors.Is(err, errServerUnavailable) {
			return true, err
		}
	}
	return false, secrets.ClearCredentials(store)
}

func credentialTargets() (*serverClient, *secrets.FileStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	store, err := openSecrets(cfg)
	if err != nil {
		return nil, nil, err
	}
	if credsOffline {
		return nil, store, nil
	}
	return newServerClient(cfg), store, nil
}

func runLogin(cmd *cobra.Command, args []string) error {
	client, store, err := credentialTargets()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), remoteTimeout)
	defer cancel()

	remote, err := applyLogin(ctx, client, store, ws.CredentialsRequest{
		SessionKey:     loginSessionKey,
		OrganizationID: loginOrgID,
		CFClearance:    loginClearance,
	})
	switch {
	case err != nil && !remote:
		return fmt.Errorf("%w (store: %s)", err, store.Path())
	case err != nil:
		return err
	case remote:
		fmt.Printf("Credentials handed to the server at %s\n", client.baseURL)
	default:
		fmt.Printf("Credentials saved to %s\n", store.Path())
	}
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	client, store, err := credentialTargets()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), remoteTimeout)
	defer cancel()

	remote, err := applyLogout(ctx, client, store)
	if err != nil {
		return err
	}
	if remote {
		fmt.Printf("Credentials cleared by the server at %s\n", client.baseURL)
		return nil
	}
	fmt.Printf("Credentials removed from %s\n", store.Path())
	return nil
}
