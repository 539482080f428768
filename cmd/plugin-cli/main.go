package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/pdellaert/fbw-installer/internal/config"
	"github.com/pdellaert/fbw-installer/internal/core"
	"github.com/pdellaert/fbw-installer/internal/models"
	"github.com/pdellaert/fbw-installer/internal/plugins"
)

const usage = `Usage: plugin-cli <command> [flags] [args]

Commands:
  keygen -out <file>          generate a signing key and print its public key
  sign -key <file> <dir>      sign the release in <dir> (dist.json + assets/)
  verify [-public-key <b64>] <url>
                              fetch a plugin and report whether it verifies
  install <url>               install a plugin and make it current
  list                        list installed plugins
  delete <id>                 remove a plugin and all of its versions
  updates                     list installed plugins with a newer release
`

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "keygen":
		err = runKeygen(args)
	case "sign":
		err = runSign(args)
	case "verify":
		err = runVerify(args)
	case "install", "list", "delete", "updates":
		err = runManaged(cmd, args)
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

func runKeygen(args []string) error {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	out := fs.String("out", "signing-key.pem", "where to write the private key")
	fs.Parse(args)

	key, err := plugins.GenerateSigningKey()
	if err != nil {
		return err
	}
	private, err := plugins.EncodePrivateKey(key)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, private, 0600); err != nil {
		return err
	}
	public, err := plugins.EncodePublicKey(&key.PublicKey)
	if err != nil {
		return err
	}

	fmt.Printf("Private key written to %s\n", *out)
	fmt.Printf("Public key (plugins.public_key):\n%s\n", public)
	return nil
}

// runSign signs a release directory laid out as served by a plugin host:
// <dir>/dist.json and <dir>/assets/<file>. The signature is written back
// into dist.json.
func runSign(args []string) error {
	fs := flag.NewFlagSet("sign", flag.ExitOnError)
	keyFile := fs.String("key", "signing-key.pem", "private key generated by keygen")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("expected a release directory")
	}
	dir := fs.Arg(0)

	keyData, err := os.ReadFile(*keyFile)
	if err != nil {
		return err
	}
	key, err := plugins.DecodePrivateKey(keyData)
	if err != nil {
		return err
	}

	distPath := filepath.Join(dir, "dist.json")
	manifestData, err := os.ReadFile(distPath)
	if err != nil {
		return err
	}
	manifest, err := models.ParseDistributionFile(manifestData)
	if err != nil {
		return fmt.Errorf("invalid dist.json: %w", err)
	}

	payload := &models.PluginPayload{DistFile: *manifest}
	for _, asset := range manifest.Assets {
		path, err := plugins.AssetPath(filepath.Join(dir, "assets"), asset.File)
		if err != nil {
			return err
		}
		buffer, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		payload.Assets = append(payload.Assets, models.PluginAssetPayload{PluginAsset: asset, Buffer: buffer})
	}

	signature, err := plugins.Sign(key, payload)
	if err != nil {
		return err
	}
	signed, err := plugins.SetSignature(manifestData, signature)
	if err != nil {
		return err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, signed, "", "  "); err != nil {
		return err
	}
	out.WriteByte('\n')
	if err := os.WriteFile(distPath, out.Bytes(), 0644); err != nil {
		return err
	}
	fmt.Printf("Signed %s@%s\n", manifest.Metadata.ID, manifest.Metadata.Version)
	return nil
}

func runVerify(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	publicKey := fs.String("public-key", "", "base64 PEM public key, defaults to plugins.public_key")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("expected a plugin URL")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if *publicKey != "" {
		cfg.Plugins.PublicKey = *publicKey
	}
	verifier, err := core.NewVerifier(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	fetcher := plugins.NewFetcher(time.Duration(cfg.Plugins.HTTPTimeout) * time.Second)
	payload, err := fetcher.FetchPayload(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	payload = verifier.Verify(payload)

	fmt.Printf("%s: verified=%t\n", payload, payload.Verified)
	for _, server := range plugins.UserPreview(payload.Assets).DownloadServers {
		fmt.Printf("  downloads from %s\n", server)
	}
	if !payload.Verified {
		os.Exit(1)
	}
	return nil
}

// runManaged runs the commands that change or read the plugins root.
// A running server picks the changes up through its watcher.
func runManaged(cmd string, args []string) error {
	app, err := core.New()
	if err != nil {
		return err
	}
	defer app.Close()
	im := app.InstallManager()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	switch cmd {
	case "install":
		if len(args) != 1 {
			return fmt.Errorf("expected a plugin URL")
		}
		payload, err := im.InstallWithResult(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Installed %s (verified=%t)\n", payload, payload.Verified)

	case "list":
		payloads, err := im.ListInstalled()
		if err != nil {
			return err
		}
		for _, payload := range payloads {
			fmt.Printf("%-30s %-12s verified=%t\n", payload.ID(), payload.Version(), payload.Verified)
		}

	case "delete":
		if len(args) != 1 {
			return fmt.Errorf("expected a plugin id")
		}
		im.Delete(args[0])
		fmt.Printf("Deleted %s\n", args[0])

	case "updates":
		updates, err := im.CheckForUpdates(ctx)
		if err != nil {
			return err
		}
		if len(updates) == 0 {
			fmt.Println("All plugins are up to date.")
		}
		for _, update := range updates {
			fmt.Printf("%s %s is available\n", update.Metadata.ID, update.Metadata.Version)
		}
	}
	return nil
}
