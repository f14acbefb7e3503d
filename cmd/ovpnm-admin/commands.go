package main

import (
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/robcowart/ovpnm/internal/crypto"
	"github.com/robcowart/ovpnm/internal/ovpnconf"
	"github.com/robcowart/ovpnm/internal/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newMigrateCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.open(cmd.Context()); err != nil {
				return err
			}
			e.logger.Info("Database migrated", zap.String("type", e.cfg.Database.Type))
			return nil
		},
	}
}

func newSetupCmd(e *env) *cobra.Command {
	var req service.SetupRequest
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Create the master key and the first admin",
		Long:  "Create the master key and the first admin. The master key is printed once and never stored in clear anywhere else.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.open(cmd.Context()); err != nil {
				return err
			}
			res, err := service.NewDirectoryService(e.db, e.cfg).Setup(cmd.Context(), &req)
			if err != nil {
				return err
			}
			return e.print(map[string]any{
				"master_key": res.MasterKey,
				"user":       res.User,
			})
		},
	}
	cmd.Flags().StringVar(&req.Name, "name", "", "Admin user name")
	cmd.Flags().StringVar(&req.Email, "email", "", "Admin email address")
	cmd.Flags().StringVar(&req.Password, "password", "", "Admin password")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newUserCmd(e *env) *cobra.Command {
	userCmd := &cobra.Command{Use: "user", Short: "Directory users"}

	var req service.ProvisionUserRequest
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a directory user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.open(cmd.Context()); err != nil {
				return err
			}
			user, err := service.NewDirectoryService(e.db, e.cfg).ProvisionUser(adminContext(cmd), &req)
			if err != nil {
				return err
			}
			return e.print(user)
		},
	}
	createCmd.Flags().StringVar(&req.Name, "name", "", "User name")
	createCmd.Flags().StringVar(&req.Email, "email", "", "Email address")
	createCmd.Flags().StringVar(&req.Password, "password", "", "Login password")
	createCmd.Flags().StringSliceVar(&req.Groups, "group", nil, "Group membership (repeatable)")
	_ = createCmd.MarkFlagRequired("name")
	_ = createCmd.MarkFlagRequired("password")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List directory users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.open(cmd.Context()); err != nil {
				return err
			}
			users, err := service.NewDirectoryService(e.db, e.cfg).ListUsers(adminContext(cmd))
			if err != nil {
				return err
			}
			return e.print(users)
		},
	}

	userCmd.AddCommand(createCmd, listCmd)
	return userCmd
}

func newClientCmd(e *env) *cobra.Command {
	clientCmd := &cobra.Command{Use: "client", Short: "VPN clients"}

	importCmd := &cobra.Command{
		Use:   "import USER_ID",
		Short: "Create the client of a directory user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.open(cmd.Context()); err != nil {
				return err
			}
			view, err := service.NewClientService(e.db, e.logger).ImportFromUser(adminContext(cmd), args[0])
			if err != nil {
				return err
			}
			return e.print(view)
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List clients with their active credential count",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.open(cmd.Context()); err != nil {
				return err
			}
			views, err := service.NewClientService(e.db, e.logger).List(adminContext(cmd))
			if err != nil {
				return err
			}
			return e.print(views)
		},
	}

	clientCmd.AddCommand(importCmd, listCmd)
	return clientCmd
}

func newCredentialCmd(e *env) *cobra.Command {
	credCmd := &cobra.Command{Use: "credential", Short: "Client credentials"}

	credentials := func(cmd *cobra.Command) (*service.CredentialService, error) {
		if err := e.open(cmd.Context()); err != nil {
			return nil, err
		}
		ca, err := e.authority()
		if err != nil {
			return nil, err
		}
		return service.NewCredentialService(e.db, e.cfg, ca, e.logger), nil
	}

	generateCmd := &cobra.Command{
		Use:   "generate CLIENT_ID",
		Short: "Issue a new credential for a client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := credentials(cmd)
			if err != nil {
				return err
			}
			view, err := svc.Generate(adminContext(cmd), args[0])
			if err != nil {
				return err
			}
			return e.print(view)
		},
	}

	var certPath, keyPath, revokedAt string
	importCmd := &cobra.Command{
		Use:   "import CLIENT_ID",
		Short: "Import an externally issued certificate and key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &service.ImportCredentialRequest{ClientID: args[0]}
			var err error
			if req.CertPEM, err = os.ReadFile(certPath); err != nil {
				return fmt.Errorf("failed to read certificate: %w", err)
			}
			if req.KeyPEM, err = os.ReadFile(keyPath); err != nil {
				return fmt.Errorf("failed to read private key: %w", err)
			}
			if revokedAt != "" {
				t, err := time.Parse(time.RFC3339, revokedAt)
				if err != nil {
					return fmt.Errorf("--revoked-at: %w", err)
				}
				req.RevokedAt = &t
			}

			svc, err := credentials(cmd)
			if err != nil {
				return err
			}
			view, err := svc.Import(adminContext(cmd), req)
			if err != nil {
				return err
			}
			return e.print(view)
		},
	}
	importCmd.Flags().StringVar(&certPath, "cert", "", "PEM certificate file")
	importCmd.Flags().StringVar(&keyPath, "key", "", "PEM private key file")
	importCmd.Flags().StringVar(&revokedAt, "revoked-at", "", "Revocation time (RFC 3339) if already revoked")
	_ = importCmd.MarkFlagRequired("cert")
	_ = importCmd.MarkFlagRequired("key")

	revokeCmd := &cobra.Command{
		Use:   "revoke CREDENTIAL_ID",
		Short: "Revoke a credential and rewrite the CRL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := credentials(cmd)
			if err != nil {
				return err
			}
			view, err := svc.Revoke(adminContext(cmd), args[0])
			if err != nil {
				return err
			}
			return e.print(view)
		},
	}

	credCmd.AddCommand(generateCmd, importCmd, revokeCmd)
	return credCmd
}

func newCRLCmd(e *env) *cobra.Command {
	crlCmd := &cobra.Command{Use: "crl", Short: "Certificate revocation list"}
	crlCmd.AddCommand(&cobra.Command{
		Use:   "update",
		Short: "Rewrite the CRL from the revoked credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.open(cmd.Context()); err != nil {
				return err
			}
			ca, err := e.authority()
			if err != nil {
				return err
			}
			if err := service.NewCredentialService(e.db, e.cfg, ca, e.logger).UpdateCRL(adminContext(cmd)); err != nil {
				return err
			}
			e.logger.Info("CRL updated", zap.String("path", e.cfg.Crypto.CRLPath))
			return nil
		},
	})
	return crlCmd
}

func newServerConfigCmd(e *env) *cobra.Command {
	serverCmd := &cobra.Command{Use: "server-config", Short: "OpenVPN server config"}

	renderCmd := &cobra.Command{
		Use:   "render",
		Short: "Rewrite the server config from the stored routes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.open(cmd.Context()); err != nil {
				return err
			}
			if err := service.NewRouteService(e.db, e.cfg, e.logger).RenderServerConfig(adminContext(cmd)); err != nil {
				return err
			}
			e.logger.Info("Server config written", zap.String("path", e.cfg.OpenVPN.ServerConfigPath))
			return nil
		},
	}

	ackCmd := &cobra.Command{
		Use:   "restart-ack",
		Short: "Clear the restart required flag after the daemon reloaded",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.open(cmd.Context()); err != nil {
				return err
			}
			return service.NewRouteService(e.db, e.cfg, e.logger).AcknowledgeRestart(adminContext(cmd))
		},
	}

	serverCmd.AddCommand(renderCmd, ackCmd)
	return serverCmd
}

func newCACmd(e *env) *cobra.Command {
	caCmd := &cobra.Command{Use: "ca", Short: "Certificate authority"}

	var (
		commonName string
		validity   time.Duration
		force      bool
	)
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a self-signed CA at the configured paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.loadConfig(); err != nil {
				return err
			}
			certPath, keyPath := e.cfg.Crypto.CACertPath, e.cfg.Crypto.CAKeyPath
			if !force {
				for _, p := range []string{certPath, keyPath} {
					if _, err := os.Stat(p); err == nil {
						return fmt.Errorf("%s already exists (use --force to overwrite)", p)
					} else if !errors.Is(err, os.ErrNotExist) {
						return err
					}
				}
			}

			ca, keyPEM, err := crypto.GenerateSelfSignedCA(&crypto.CARequest{
				Subject:  pkix.Name{CommonName: commonName},
				RSABits:  e.cfg.Crypto.RSABits,
				Validity: validity,
			})
			if err != nil {
				return err
			}
			if err := ovpnconf.WriteFileAtomic(keyPath, keyPEM, 0600); err != nil {
				return fmt.Errorf("failed to write CA key: %w", err)
			}
			if err := ovpnconf.WriteFileAtomic(certPath, ca.CertificatePEM, 0644); err != nil {
				return fmt.Errorf("failed to write CA certificate: %w", err)
			}

			e.logger.Info("CA generated",
				zap.String("cert", certPath),
				zap.String("serial", crypto.SerialHex(ca.Certificate)),
				zap.Time("not_after", ca.Certificate.NotAfter),
			)
			return nil
		},
	}
	initCmd.Flags().StringVar(&commonName, "cn", "ovpnm CA", "CA common name")
	initCmd.Flags().DurationVar(&validity, "validity", 10*365*24*time.Hour, "CA validity period")
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing CA")

	caCmd.AddCommand(initCmd)
	return caCmd
}
