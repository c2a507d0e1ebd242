// Command devtoken mints actor access tokens and gateway signatures for
// local development against a running server.
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/Krishnamurari7/urban-services-platform/internal/model"
	"github.com/Krishnamurari7/urban-services-platform/internal/payment"
	"github.com/Krishnamurari7/urban-services-platform/internal/utils"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		secret, userID, role string
		ttl                  time.Duration
		order, paymentID     string
		signSecret, scheme   string
		encoding             string
	)
	fs := pflag.NewFlagSet("devtoken", pflag.ContinueOnError)
	fs.StringVar(&secret, "secret", os.Getenv("JWT_SECRET"), "JWT signing secret (default $JWT_SECRET)")
	fs.StringVar(&userID, "user", "", "user id for the sub claim")
	fs.StringVar(&role, "role", string(model.RoleCustomer), "CUSTOMER, PROFESSIONAL or ADMIN")
	fs.DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	fs.StringVar(&order, "order", "", "gateway order id to sign instead of minting a token")
	fs.StringVar(&paymentID, "payment", "", "gateway payment id to sign")
	fs.StringVar(&signSecret, "signing-secret", os.Getenv("PAYMENT_SIGNING_SECRET"), "gateway secret (default $PAYMENT_SIGNING_SECRET)")
	fs.StringVar(&scheme, "scheme", envOr("PAYMENT_SIGNING_SCHEME", string(payment.SchemeHMACSHA256)), "signing scheme")
	fs.StringVar(&encoding, "encoding", envOr("PAYMENT_SIGNATURE_ENCODING", string(payment.EncodingHex)), "hex or base64")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if order != "" {
		v, err := payment.NewVerifier(payment.Scheme(scheme), payment.Encoding(encoding), []byte(signSecret))
		if err != nil {
			return err
		}
		fmt.Println(v.Sign(order, paymentID))
		return nil
	}

	if secret == "" || userID == "" {
		return errors.New("--secret and --user are required")
	}
	r := model.Role(role)
	if !r.Valid() {
		return fmt.Errorf("invalid role %q", role)
	}
	tok, err := utils.NewAccessToken(secret, userID, r, ttl)
	if err != nil {
		return err
	}
	fmt.Println(tok.Token)
	return nil
}

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}
