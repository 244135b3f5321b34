package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/nostr-scheduler/internal/dbx"
	"github.com/dmitrijs2005/nostr-scheduler/internal/nostrx"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/models"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/spf13/cobra"
)

func newMigrateCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := app.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.repos.RunMigrations(ctx, st.db); err != nil {
				return fmt.Errorf("migrations: %w", err)
			}
			fmt.Fprintln(app.out, "migrations applied")
			return nil
		},
	}
}

type accountFlags struct {
	id       string
	pubkey   string
	channel  string
	endpoint string
	target   string
	relays   []string
	active   bool
}

func newAccountsCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage publishing accounts",
	}

	var f accountFlags
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Register an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			pk := strings.TrimSpace(f.pubkey)
			if strings.HasPrefix(pk, "npub1") {
				prefix, v, err := nip19.Decode(pk)
				if err != nil || prefix != "npub" {
					return fmt.Errorf("invalid npub")
				}
				pk = v.(string)
			}
			if !nostr.IsValidPublicKey(pk) {
				return fmt.Errorf("invalid public key %q", f.pubkey)
			}
			channel, err := models.ParseChannel(f.channel)
			if err != nil {
				return err
			}

			st, err := app.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			acc := &models.Account{
				ID:            f.id,
				Name:          args[0],
				PubKey:        pk,
				Channel:       channel,
				APIEndpoint:   f.endpoint,
				NostrMQTarget: f.target,
				Relays:        f.relays,
			}
			err = dbx.WithTx(ctx, st.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
				repo := st.repos.Accounts(tx)
				if err := repo.Create(ctx, acc); err != nil {
					return err
				}
				if f.active {
					return repo.SetActive(ctx, acc.ID)
				}
				return nil
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(app.out, acc.ID)
			return nil
		},
	}
	add.Flags().StringVar(&f.id, "id", "", "account id (default: random uuid)")
	add.Flags().StringVar(&f.pubkey, "pubkey", "", "public key, hex or npub")
	add.Flags().StringVar(&f.channel, "channel", "direct", "default channel: direct, api or nostrmq")
	add.Flags().StringVar(&f.endpoint, "endpoint", "", "API channel endpoint")
	add.Flags().StringVar(&f.target, "mq-target", "", "NostrMQ target public key")
	add.Flags().StringSliceVar(&f.relays, "relay", nil, "relay URL for the direct channel (repeatable)")
	add.Flags().BoolVar(&f.active, "active", false, "make this the active account")
	_ = add.MarkFlagRequired("pubkey")

	cmd.AddCommand(add)
	return cmd
}

func newKeysCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage account private keys",
	}

	var toDB bool
	imp := &cobra.Command{
		Use:   "import <account-id>",
		Short: "Store an account's private key (nsec or hex, read without echo)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := app.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			repo := st.repos.Accounts(st.db)
			acc, err := repo.GetByID(ctx, args[0])
			if err != nil {
				return err
			}

			key, err := GetSecret(app.in, "Private key", cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer wipe(key)

			if err := app.keystore().Import(ctx, acc, string(key), toDB, repo); err != nil {
				return err
			}
			where := "keyring"
			if toDB {
				where = "database"
			}
			fmt.Fprintf(app.out, "key for %s stored in %s\n", acc.ID, where)
			return nil
		},
	}
	imp.Flags().BoolVar(&toDB, "db", false, "seal the key into the database instead of the OS keyring")

	gen := &cobra.Command{
		Use:   "gen",
		Short: "Generate a new keypair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sk := nostr.GeneratePrivateKey()
			pk, err := nostrx.PublicKey(sk)
			if err != nil {
				return err
			}
			nsec, err := nip19.EncodePrivateKey(sk)
			if err != nil {
				return err
			}
			npub, err := nip19.EncodePublicKey(pk)
			if err != nil {
				return err
			}
			fmt.Fprintf(app.out, "nsec: %s\nnpub: %s\npubkey: %s\n", nsec, npub, pk)
			return nil
		},
	}

	cmd.AddCommand(imp, gen)
	return cmd
}
