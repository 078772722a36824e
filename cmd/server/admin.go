package main

import (
	"context"
	"fmt"
	"time"

	"github.com/alecthomas/kong"

	"github.com/lowc1012/crm-gate/internal/apikey"
	"github.com/lowc1012/crm-gate/internal/auth"
	"github.com/lowc1012/crm-gate/internal/config"
	"github.com/lowc1012/crm-gate/internal/totp"
)

type APIKeyCmd struct {
	Create APIKeyCreateCmd `cmd:"" help:"Issue a new API key. The raw key is printed once."`
	Revoke APIKeyRevokeCmd `cmd:"" help:"Revoke an API key by id."`
	Hash   APIKeyHashCmd   `cmd:"" help:"Print the stored hash of a raw key."`
}

type APIKeyCreateCmd struct {
	User    string        `required:"" help:"Owner user id."`
	Name    string        `help:"Label for the key."`
	Perm    []string      `help:"Granted capability (read, write, admin). Repeatable." default:"read"`
	Expires time.Duration `help:"Lifetime of the key, e.g. 720h. Zero never expires."`
}

func (c *APIKeyCreateCmd) Run(kctx *kong.Context) error {
	perms := make([]string, 0, len(c.Perm))
	for _, p := range c.Perm {
		capability, err := auth.ParseCapability(p)
		if err != nil {
			return err
		}
		perms = append(perms, string(capability))
	}

	ctx := context.Background()
	store, closeDB, err := openKeyStore(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	raw, rec, err := apikey.NewRecord(c.User, c.Name, perms, c.Expires, time.Now())
	if err != nil {
		return err
	}
	if err := store.Create(ctx, rec); err != nil {
		return err
	}

	fmt.Fprintf(kctx.Stdout, "id:  %s\nkey: %s\n", rec.ID, raw)
	return nil
}

type APIKeyRevokeCmd struct {
	ID string `required:"" help:"Key id."`
}

func (c *APIKeyRevokeCmd) Run(kctx *kong.Context) error {
	ctx := context.Background()
	store, closeDB, err := openKeyStore(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	if err := store.Revoke(ctx, c.ID, time.Now()); err != nil {
		return fmt.Errorf("revoke %s: %w", c.ID, err)
	}
	fmt.Fprintf(kctx.Stdout, "revoked %s\n", c.ID)
	return nil
}

type APIKeyHashCmd struct {
	Raw string `arg:"" help:"Raw API key."`
}

func (c *APIKeyHashCmd) Run(kctx *kong.Context) error {
	fmt.Fprintln(kctx.Stdout, apikey.Hash(c.Raw))
	return nil
}

type TOTPCmd struct {
	Enroll TOTPEnrollCmd `cmd:"" help:"Generate and store a secret for a user."`
	Code   TOTPCodeCmd   `cmd:"" help:"Print the current code for a secret."`
	Verify TOTPVerifyCmd `cmd:"" help:"Check a code against a secret."`
}

type TOTPEnrollCmd struct {
	User    string `required:"" help:"User id."`
	Account string `help:"Account label shown in the authenticator app (defaults to the user id)."`
}

func (c *TOTPEnrollCmd) Run(kctx *kong.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	account := c.Account
	if account == "" {
		account = c.User
	}
	enrollment, err := totp.Enroll(cfg.TOTP.Issuer, account)
	if err != nil {
		return err
	}

	ctx := context.Background()
	db, dialect, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	secrets, err := totp.NewSQLSecretStore(ctx, db, dialect)
	if err != nil {
		return err
	}
	if err := secrets.Put(ctx, c.User, enrollment.Secret); err != nil {
		return err
	}

	fmt.Fprintf(kctx.Stdout, "secret: %s\nurl:    %s\n", enrollment.Secret, enrollment.URL)
	return nil
}

type TOTPCodeCmd struct {
	Secret string `required:"" help:"Base32 secret."`
}

func (c *TOTPCodeCmd) Run(kctx *kong.Context) error {
	code, err := totp.NewVerifier(nil).GenerateCode(c.Secret, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintln(kctx.Stdout, code)
	return nil
}

type TOTPVerifyCmd struct {
	Secret string `required:"" help:"Base32 secret."`
	Code   string `required:"" help:"Six digit code."`
}

func (c *TOTPVerifyCmd) Run(kctx *kong.Context) error {
	fmt.Fprintf(kctx.Stdout, "valid: %t\n", totp.NewVerifier(nil).Verify(c.Secret, c.Code))
	return nil
}

func openKeyStore(ctx context.Context) (*apikey.SQLStore, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	db, dialect, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	store, err := apikey.NewSQLStore(ctx, db, dialect)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return store, func() { db.Close() }, nil
}
