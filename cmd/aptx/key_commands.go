package main

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/brojonat/aptostx/service/signer"
	"github.com/urfave/cli/v2"
)

type keyView struct {
	Address    string `json:"address"`
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key,omitempty"`
	Base58     string `json:"base58,omitempty"`
}

func viewKey(k *signer.Ed25519, secret bool) keyView {
	v := keyView{
		Address:   k.Address().String(),
		PublicKey: "0x" + hex.EncodeToString(k.PublicKey()),
	}
	if secret {
		v.PrivateKey = k.SeedHex()
		v.Base58 = k.Base58()
	}
	return v
}

func printKey(c *cli.Context, v keyView) error {
	return output(c, v, func(w io.Writer) {
		fmt.Fprintf(w, "Address:     %s\n", v.Address)
		fmt.Fprintf(w, "Public Key:  %s\n", v.PublicKey)
		if v.PrivateKey != "" {
			fmt.Fprintf(w, "Private Key: %s\n", v.PrivateKey)
		}
	})
}

func keygenCommand() *cli.Command {
	return &cli.Command{
		Name:  "keygen",
		Usage: "Generate a new Ed25519 account key",
		Action: func(c *cli.Context) error {
			k, err := signer.Generate()
			if err != nil {
				return fmt.Errorf("failed to generate key: %w", err)
			}
			return printKey(c, viewKey(k, true))
		},
	}
}

func addressCommand() *cli.Command {
	return &cli.Command{
		Name:  "address",
		Usage: "Print the account address of a key",
		Flags: []cli.Flag{keyFlag()},
		Action: func(c *cli.Context) error {
			k, err := loadSigner(c, "key")
			if err != nil {
				return err
			}
			return printKey(c, viewKey(k, false))
		},
	}
}
