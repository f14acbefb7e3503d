package service

import (
	"context"
	"crypto/x509"
	"database/sql"
	"errors"
	"math/big"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/robcowart/ovpnm/internal/apperror"
	"github.com/robcowart/ovpnm/internal/auth"
	"github.com/robcowart/ovpnm/internal/config"
	"github.com/robcowart/ovpnm/internal/crypto"
	"github.com/robcowart/ovpnm/internal/database"
	"github.com/robcowart/ovpnm/internal/database/models"
	"github.com/robcowart/ovpnm/internal/ovpnconf"
	"go.uber.org/zap"
)

// CertificateAuthority issues client certificates and signs the CRL
type CertificateAuthority interface {
	IssueClientCertificate(req *crypto.ClientCertificateRequest) (*crypto.ClientCertificate, error)
	BuildCRL(entries []crypto.RevokedEntry, number *big.Int, validity time.Duration) ([]byte, error)
	VerifyIssuedBy(cert *x509.Certificate) error
	CA() (*x509.Certificate, []byte)
}

// Client profile platforms
const (
	PlatformDefault = ""
	PlatformLinux   = "linux"
)

// CredentialService manages the lifecycle of client credentials
type CredentialService struct {
	db     *database.Database
	cfg    *config.Config
	ca     CertificateAuthority
	logger *zap.Logger
	locks  *keyedMutex
}

// NewCredentialService creates a new credential service. ca may be nil, in
// which case issuance and CRL updates report Unavailable.
func NewCredentialService(db *database.Database, cfg *config.Config, ca CertificateAuthority, logger *zap.Logger) *CredentialService {
	return &CredentialService{
		db:     db,
		cfg:    cfg,
		ca:     ca,
		logger: logger,
		locks:  newKeyedMutex(),
	}
}

// Validity evaluates a credential at the given instant. Imported, revoked or
// incomplete credentials are never valid.
func Validity(cred *models.ClientCredential, at time.Time) CredentialValidity {
	var v CredentialValidity
	if cred.CertificatePEM == "" {
		return v
	}
	cert, err := crypto.ParseCertificatePEM([]byte(cred.CertificatePEM))
	if err != nil {
		return v
	}

	v.BeforeValidity = at.Before(cert.NotBefore)
	v.Expired = at.After(cert.NotAfter)
	v.Valid = !cred.IsRevoked && !cred.IsImported && len(cred.PrivateKeyEnc) > 0 &&
		!v.BeforeValidity && !v.Expired
	return v
}

func credentialView(cred *models.ClientCredential, detail bool, at time.Time) CredentialView {
	v := CredentialView{ClientCredential: cred, Validity: Validity(cred, at)}
	if !detail || cred.IsImported {
		return v
	}
	cert, err := crypto.ParseCertificatePEM([]byte(cred.CertificatePEM))
	if err != nil {
		return v
	}
	v.Cert = crypto.DescribeCertificate(cert)
	pkey := v.Cert.PublicKey
	v.PKey = &pkey
	return v
}

type clientGetter interface {
	GetClient(ctx context.Context, id string) (*models.Client, error)
}

// authorizeOwner allows admins and the user owning the client
func authorizeOwner(ctx context.Context, q clientGetter, user *models.User, clientID string) (*models.Client, error) {
	client, err := q.GetClient(ctx, clientID)
	if err != nil {
		return nil, storeError(err, "client")
	}
	if client.UserID != user.ID && !auth.IsAdmin(user) {
		return nil, apperror.Forbidden("not the owner of this credential")
	}
	return client, nil
}

// Get returns a credential. Owners and admins only.
func (s *CredentialService) Get(ctx context.Context, id string, detail bool) (*CredentialView, error) {
	user, err := requireIdentity(ctx)
	if err != nil {
		return nil, err
	}

	cred, err := s.db.GetCredential(ctx, id)
	if err != nil {
		return nil, storeError(err, "credential")
	}
	if _, err := authorizeOwner(ctx, s.db, user, cred.ClientID); err != nil {
		return nil, err
	}

	v := credentialView(cred, detail, now())
	return &v, nil
}

// Generate issues a new credential for a client. Existing credentials are untouched.
func (s *CredentialService) Generate(ctx context.Context, clientID string) (*CredentialView, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}

	client, err := s.db.GetClient(ctx, clientID)
	if err != nil {
		return nil, storeError(err, "client")
	}
	masterKey, err := MasterKey(ctx, s.db)
	if err != nil {
		return nil, err
	}

	issued, err := s.issue(ctx, &crypto.ClientCertificateRequest{
		CommonName:      client.Name,
		Email:           client.Email,
		SubjectDefaults: s.cfg.Crypto.SubjectDefaults,
		RSABits:         s.cfg.Crypto.RSABits,
		Validity:        s.cfg.Crypto.CertValidity,
	})
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	sealed, err := crypto.SealPrivateKey(issued.PrivateKeyPEM, masterKey, id)
	if err != nil {
		return nil, apperror.Internal("failed to encrypt private key", err)
	}

	ts := now()
	cred := &models.ClientCredential{
		ID:             id,
		ClientID:       client.ID,
		SerialNumber:   issued.SerialNumber,
		CertificatePEM: string(issued.CertificatePEM),
		PrivateKeyEnc:  sealed,
		CreatedAt:      ts,
		ModifiedAt:     ts,
	}
	if err := s.db.CreateCredential(context.WithoutCancel(ctx), cred); err != nil {
		return nil, storeError(err, "credential")
	}

	s.logger.Info("Issued client credential",
		zap.String("client", client.Name),
		zap.String("credential_id", id),
		zap.String("serial", issued.SerialNumber),
	)

	v := credentialView(cred, true, now())
	return &v, nil
}

// issue runs the CA bounded by the configured issue timeout
func (s *CredentialService) issue(ctx context.Context, req *crypto.ClientCertificateRequest) (*crypto.ClientCertificate, error) {
	if s.ca == nil {
		return nil, apperror.Unavailable("certificate authority is not configured", nil)
	}
	if timeout := s.cfg.Crypto.IssueTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		cert *crypto.ClientCertificate
		err  error
	}
	done := make(chan result, 1)
	go func() {
		cert, err := s.ca.IssueClientCertificate(req)
		done <- result{cert, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, apperror.Internal("failed to issue certificate", r.err)
		}
		return r.cert, nil
	case <-ctx.Done():
		return nil, apperror.Unavailable("certificate authority did not respond", ctx.Err())
	}
}

// Revoke marks a credential revoked. Revoking an already revoked credential
// changes nothing and keeps the original revoked_at.
func (s *CredentialService) Revoke(ctx context.Context, id string) (*CredentialView, error) {
	return s.setRevoked(ctx, id, true)
}

// Unrevoke clears the revocation of a credential
func (s *CredentialService) Unrevoke(ctx context.Context, id string) (*CredentialView, error) {
	return s.setRevoked(ctx, id, false)
}

func (s *CredentialService) setRevoked(ctx context.Context, id string, revoke bool) (*CredentialView, error) {
	user, err := requireIdentity(ctx)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	ctx = context.WithoutCancel(ctx)
	var cred *models.ClientCredential
	changed := false
	err = s.revocationTx(ctx, func(tx *database.Tx) (bool, error) {
		var err error
		cred, err = tx.GetCredentialForUpdate(ctx, id)
		if err != nil {
			return false, storeError(err, "credential")
		}
		if _, err := authorizeOwner(ctx, tx, user, cred.ClientID); err != nil {
			return false, err
		}

		switch {
		case revoke && cred.IsRevoked:
			return false, nil
		case !revoke && !cred.IsRevoked:
			return false, apperror.InvalidState("credential is not revoked")
		}

		ts := now()
		if ts.Before(cred.CreatedAt) {
			ts = cred.CreatedAt
		}
		cred.IsRevoked = revoke
		cred.RevokedAt = nil
		if revoke {
			cred.RevokedAt = &ts
		}
		cred.ModifiedAt = ts
		if err := tx.SetCredentialRevocation(ctx, cred.ID, cred.IsRevoked, cred.RevokedAt, cred.ModifiedAt); err != nil {
			return false, storeError(err, "credential")
		}
		changed = true
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.logger.Info("Credential revocation changed",
			zap.String("credential_id", id),
			zap.Bool("revoked", revoke),
			zap.String("by", user.Name),
		)
	}
	v := credentialView(cred, false, now())
	return &v, nil
}

// UpdateCRL rewrites the CRL file from the revoked credentials
func (s *CredentialService) UpdateCRL(ctx context.Context) error {
	if _, err := requireAdmin(ctx); err != nil {
		return err
	}
	if s.ca == nil {
		return apperror.Unavailable("certificate authority is not configured", nil)
	}
	if s.cfg.Crypto.CRLPath == "" {
		return apperror.InvalidState("crl path is not configured")
	}

	return s.revocationTx(context.WithoutCancel(ctx), func(*database.Tx) (bool, error) {
		return true, nil
	})
}

// revocationTx runs fn in a transaction holding the CRL number row lock and,
// when fn reports a change, rewrites the CRL before committing. A failed write
// rolls the change back. If the commit itself fails after the file was
// replaced, the CRL is rendered again from the committed state.
func (s *CredentialService) revocationTx(ctx context.Context, fn func(tx *database.Tx) (bool, error)) error {
	written := false
	err := s.db.WithTx(ctx, func(tx *database.Tx) error {
		if err := tx.LockSystemConfig(ctx, models.ConfigCRLNumber, "0"); err != nil {
			return storeError(err, "crl number")
		}
		changed, err := fn(tx)
		if err != nil || !changed {
			return err
		}
		if err := s.writeCRL(ctx, tx); err != nil {
			return err
		}
		written = s.ca != nil && s.cfg.Crypto.CRLPath != ""
		return nil
	})
	if err != nil && written {
		s.logger.Warn("Commit failed after the CRL was written, restoring it", zap.Error(err))
		restoreErr := s.db.WithTx(ctx, func(tx *database.Tx) error {
			if err := tx.LockSystemConfig(ctx, models.ConfigCRLNumber, "0"); err != nil {
				return storeError(err, "crl number")
			}
			return s.writeCRL(ctx, tx)
		})
		if restoreErr != nil {
			s.logger.Error("Failed to restore the CRL", zap.Error(restoreErr))
		}
	}
	return err
}

// writeCRL regenerates the CRL from the revoked set visible to tx. The caller
// holds the CRL number row lock.
func (s *CredentialService) writeCRL(ctx context.Context, tx *database.Tx) error {
	if s.ca == nil || s.cfg.Crypto.CRLPath == "" {
		return nil
	}

	revoked, err := tx.ListRevokedCredentials(ctx)
	if err != nil {
		return storeError(err, "credential")
	}
	entries := make([]crypto.RevokedEntry, 0, len(revoked))
	for _, cred := range revoked {
		if cred.SerialNumber == "" || cred.RevokedAt == nil {
			continue
		}
		entries = append(entries, crypto.RevokedEntry{SerialNumber: cred.SerialNumber, RevokedAt: *cred.RevokedAt})
	}

	var number int64
	current, err := tx.GetSystemConfig(ctx, models.ConfigCRLNumber)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return storeError(err, "crl number")
	default:
		if number, err = strconv.ParseInt(current, 10, 64); err != nil {
			return apperror.Internal("invalid crl number", err)
		}
	}
	number++
	if err := tx.SetSystemConfig(ctx, models.ConfigCRLNumber, strconv.FormatInt(number, 10)); err != nil {
		return storeError(err, "crl number")
	}

	crlPEM, err := s.ca.BuildCRL(entries, big.NewInt(number), s.cfg.Crypto.CRLValidity)
	if err != nil {
		return apperror.Internal("failed to build CRL", err)
	}
	if err := ovpnconf.WriteFileAtomic(s.cfg.Crypto.CRLPath, crlPEM, 0644); err != nil {
		return apperror.Internal("failed to write CRL", err)
	}

	s.logger.Info("CRL updated", zap.Int("revoked", len(entries)), zap.Int64("number", number))
	return nil
}

// ImportCredentialRequest carries key material issued outside this system
type ImportCredentialRequest struct {
	ClientID  string
	CertPEM   []byte
	KeyPEM    []byte
	RevokedAt *time.Time
}

// Import stores an externally issued certificate and key for a client. The key
// pair and issuer are verified; the credential is flagged imported and is
// never reported valid.
func (s *CredentialService) Import(ctx context.Context, req *ImportCredentialRequest) (*CredentialView, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}

	cert, err := crypto.ParseCertificatePEM(req.CertPEM)
	if err != nil {
		return nil, apperror.InvalidInput("invalid certificate", err.Error())
	}
	key, err := crypto.ParsePrivateKeyPEM(req.KeyPEM)
	if err != nil {
		return nil, apperror.InvalidInput("invalid private key", err.Error())
	}
	if err := crypto.VerifyKeyPair(cert, key); err != nil {
		return nil, apperror.InvalidInput("invalid key pair", err.Error())
	}
	if s.ca != nil {
		if err := s.ca.VerifyIssuedBy(cert); err != nil {
			return nil, apperror.InvalidInput("certificate not issued by this CA", err.Error())
		}
	}

	masterKey, err := MasterKey(ctx, s.db)
	if err != nil {
		return nil, err
	}
	id := uuid.New().String()
	sealed, err := crypto.SealPrivateKey(req.KeyPEM, masterKey, id)
	if err != nil {
		return nil, apperror.Internal("failed to encrypt private key", err)
	}

	// an imported credential exists since its certificate was issued
	ts := now()
	createdAt := cert.NotBefore.UTC().Truncate(time.Microsecond)
	if createdAt.After(ts) {
		createdAt = ts
	}
	cred := &models.ClientCredential{
		ID:             id,
		ClientID:       req.ClientID,
		SerialNumber:   crypto.SerialHex(cert),
		CertificatePEM: string(req.CertPEM),
		PrivateKeyEnc:  sealed,
		IsImported:     true,
		CreatedAt:      createdAt,
		ModifiedAt:     ts,
	}
	if req.RevokedAt != nil {
		revokedAt := req.RevokedAt.UTC().Truncate(time.Microsecond)
		if revokedAt.Before(createdAt) || revokedAt.After(ts) {
			return nil, apperror.InvalidInput("invalid revoked_at", "revoked_at must be between certificate issuance and now")
		}
		cred.IsRevoked = true
		cred.RevokedAt = &revokedAt
	}

	ctx = context.WithoutCancel(ctx)
	err = s.revocationTx(ctx, func(tx *database.Tx) (bool, error) {
		if _, err := tx.GetClient(ctx, req.ClientID); err != nil {
			return false, storeError(err, "client")
		}
		if err := tx.CreateCredential(ctx, cred); err != nil {
			return false, storeError(err, "credential")
		}
		return cred.IsRevoked, nil
	})
	if err != nil {
		return nil, err
	}

	v := credentialView(cred, false, now())
	return &v, nil
}

// openKey loads a credential the caller may read and decrypts its private key
func (s *CredentialService) openKey(ctx context.Context, id string) (*models.ClientCredential, []byte, error) {
	user, err := requireIdentity(ctx)
	if err != nil {
		return nil, nil, err
	}
	cred, err := s.db.GetCredential(ctx, id)
	if err != nil {
		return nil, nil, storeError(err, "credential")
	}
	if _, err := authorizeOwner(ctx, s.db, user, cred.ClientID); err != nil {
		return nil, nil, err
	}
	if len(cred.PrivateKeyEnc) == 0 {
		return nil, nil, apperror.InvalidState("credential has no private key")
	}

	masterKey, err := MasterKey(ctx, s.db)
	if err != nil {
		return nil, nil, err
	}
	keyPEM, err := crypto.OpenPrivateKey(cred.PrivateKeyEnc, masterKey, cred.ID)
	if err != nil {
		return nil, nil, apperror.Internal("failed to decrypt private key", err)
	}
	return cred, keyPEM, nil
}

// ExportConfig renders an inline OpenVPN client profile for the credential
func (s *CredentialService) ExportConfig(ctx context.Context, id, platform string) (string, error) {
	var basePath string
	switch platform {
	case PlatformDefault:
		basePath = s.cfg.OpenVPN.ClientBaseConfigPath
	case PlatformLinux:
		basePath = s.cfg.OpenVPN.LinuxClientBaseConfigPath
	default:
		return "", apperror.InvalidInput("invalid platform", platform)
	}
	if s.ca == nil {
		return "", apperror.Unavailable("certificate authority is not configured", nil)
	}

	cred, keyPEM, err := s.openKey(ctx, id)
	if err != nil {
		return "", err
	}

	base, err := ovpnconf.ReadBase(basePath)
	if err != nil {
		return "", apperror.Internal("failed to read client base config", err)
	}
	tlsAuthKey, err := os.ReadFile(s.cfg.OpenVPN.TLSAuthKeyPath)
	if err != nil {
		return "", apperror.Internal("failed to read tls auth key", err)
	}

	_, caPEM := s.ca.CA()
	profile, err := ovpnconf.RenderClientConfig(base, ovpnconf.ClientMaterial{
		CACertPEM:  caPEM,
		CertPEM:    []byte(cred.CertificatePEM),
		KeyPEM:     keyPEM,
		TLSAuthKey: tlsAuthKey,
	})
	if err != nil {
		return "", apperror.Internal("failed to render client config", err)
	}
	return profile, nil
}

// ExportPKCS12 bundles the credential with the CA certificate as PKCS#12
func (s *CredentialService) ExportPKCS12(ctx context.Context, id, password string, legacy bool) ([]byte, error) {
	if password == "" {
		return nil, apperror.InvalidInput("invalid request", "password is required")
	}

	cred, keyPEM, err := s.openKey(ctx, id)
	if err != nil {
		return nil, err
	}

	var chain []*x509.Certificate
	if s.ca != nil {
		caCert, _ := s.ca.CA()
		chain = append(chain, caCert)
	}

	export := crypto.ExportPKCS12
	if legacy {
		export = crypto.ExportPKCS12Legacy
	}
	pfx, err := export([]byte(cred.CertificatePEM), keyPEM, password, chain...)
	if err != nil {
		return nil, apperror.Internal("failed to export PKCS#12", err)
	}
	return pfx, nil
}
