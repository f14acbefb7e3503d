// Command ovpnm-admin performs administrative operations directly against the
// ovpnm database and files, for bootstrapping and scripting without the API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/robcowart/ovpnm/internal/auth"
	"github.com/robcowart/ovpnm/internal/config"
	"github.com/robcowart/ovpnm/internal/crypto"
	"github.com/robcowart/ovpnm/internal/database"
	"github.com/robcowart/ovpnm/internal/database/models"
	"github.com/robcowart/ovpnm/internal/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// operator is the identity every admin command acts as
var operator = &models.User{
	ID:     "ovpnm-admin",
	Name:   "ovpnm-admin",
	Groups: []models.Group{{Name: auth.AdminGroup}},
}

// env is the state shared by the subcommands
type env struct {
	flags *config.Flags
	out   io.Writer

	cfg    *config.Config
	logger *zap.Logger
	db     *database.Database
}

func (e *env) loadConfig() error {
	if e.cfg != nil {
		return nil
	}
	cfg, err := config.Load(e.flags.ConfigFile(), e.flags)
	if err != nil {
		return err
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	e.cfg, e.logger = cfg, logger
	return nil
}

// open loads the config and opens the migrated database
func (e *env) open(ctx context.Context) error {
	if err := e.loadConfig(); err != nil {
		return err
	}
	if e.db != nil {
		return nil
	}
	db, err := database.New(e.cfg)
	if err != nil {
		return err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return err
	}
	e.db = db
	return nil
}

func (e *env) close() {
	if e.db != nil {
		e.db.Close()
	}
	if e.logger != nil {
		_ = e.logger.Sync()
	}
}

// authority loads the CA; commands that need it fail without it
func (e *env) authority() (service.CertificateAuthority, error) {
	ca, err := crypto.LoadAuthority(e.cfg.Crypto.CACertPath, e.cfg.Crypto.CAKeyPath)
	if err != nil {
		return nil, err
	}
	return ca, nil
}

func (e *env) print(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(e.out, string(b))
	return err
}

func adminContext(cmd *cobra.Command) context.Context {
	return auth.WithIdentity(cmd.Context(), operator)
}

func newRootCmd(out io.Writer) (*cobra.Command, *env) {
	e := &env{flags: config.NewFlags("ovpnm-admin"), out: out}

	root := &cobra.Command{
		Use:           "ovpnm-admin",
		Short:         "Administrative tasks for ovpnm",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			e.close()
		},
	}
	root.PersistentFlags().AddFlagSet(e.flags.FlagSet())
	root.SetOut(out)

	root.AddCommand(
		newMigrateCmd(e),
		newSetupCmd(e),
		newUserCmd(e),
		newClientCmd(e),
		newCredentialCmd(e),
		newCRLCmd(e),
		newServerConfigCmd(e),
		newCACmd(e),
	)
	return root, e
}

func main() {
	root, e := newRootCmd(os.Stdout)
	if err := root.Execute(); err != nil {
		e.close()
		fmt.Fprintln(os.Stderr, "Error:", err.Error())
		os.Exit(1)
	}
}
