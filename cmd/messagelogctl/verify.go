package main

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/spf13/cobra"

	"github.com/secgw/messagelog/pkg/archive"
	"github.com/secgw/messagelog/pkg/asic"
	"github.com/secgw/messagelog/pkg/timestamp"
)

var verifyArchiveCmd = &cobra.Command{
	Use:   "verify-archive <file>",
	Short: "Verify the linking chain and containers of an archive file offline",
	Long: `Replays the linkinginfo entry of an archive file. Each line must carry the
digest reached after the entries before it.

--previous is the digest of the preceding archive of the same group (the
digest printed when verifying that archive). Without it the chain is
checked from the file's own first line, so the link to the preceding
archive is not verified.

With --tsa-cert every container is verified against the trusted TSA
certificates as well. Encrypted archives need --keyring.`,
	Args: cobra.ExactArgs(1),
	RunE: runVerifyArchive,
}

var verifyAsicCmd = &cobra.Command{
	Use:   "verify-asic <file>",
	Short: "Verify one ASiC container offline",
	Args:  cobra.ExactArgs(1),
	RunE:  runVerifyAsic,
}

var (
	verifyPrevious string
	verifyTSACerts []string
	verifyKeyring  string
)

func init() {
	verifyArchiveCmd.Flags().StringVar(&verifyPrevious, "previous", "", "Digest of the preceding archive of the group")
	verifyArchiveCmd.Flags().StringSliceVar(&verifyTSACerts, "tsa-cert", nil, "Trusted TSA certificate PEM file, repeatable")
	verifyArchiveCmd.Flags().StringVar(&verifyKeyring, "keyring", "", "Armored OpenPGP private keyring for encrypted archives")

	verifyAsicCmd.Flags().StringSliceVar(&verifyTSACerts, "tsa-cert", nil, "Trusted TSA certificate PEM file, repeatable")
	_ = verifyAsicCmd.MarkFlagRequired("tsa-cert")
}

type archiveReport struct {
	File     string   `json:"file"`
	Entries  []string `json:"entries"`
	Digest   string   `json:"digest"`
	Linked   bool     `json:"linkedToPrevious"`
	Verified bool     `json:"containersVerified"`
}

func runVerifyArchive(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	if verifyKeyring != "" {
		if data, err = decryptArchive(data, verifyKeyring); err != nil {
			return err
		}
	}

	var trust *timestamp.TrustStore
	if len(verifyTSACerts) > 0 {
		if trust, err = timestamp.LoadTrustStore(verifyTSACerts); err != nil {
			return err
		}
	}

	previous, linked := verifyPrevious, cmd.Flags().Changed("previous")
	if !linked {
		if previous, err = firstDigest(data); err != nil {
			return err
		}
	}

	v, err := archive.VerifyArchive(data, previous, trust)
	if err != nil {
		return err
	}

	report := archiveReport{
		File:     args[0],
		Entries:  v.Entries,
		Digest:   v.Digest,
		Linked:   linked,
		Verified: trust != nil,
	}
	if structured() {
		return printOutput(report)
	}
	printTable([]string{"Field", "Value"}, [][]string{
		{"File", report.File},
		{"Entries", fmt.Sprint(len(report.Entries))},
		{"Final digest", report.Digest},
		{"Linked to previous", fmt.Sprint(report.Linked)},
		{"Containers verified", fmt.Sprint(report.Verified)},
	})
	return nil
}

// firstDigest returns the digest the archive's linking chain starts from.
func firstDigest(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}
	for _, f := range zr.File {
		if f.Name != archive.LinkingInfoEntry {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", err
		}
		raw, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", err
		}
		lines, err := archive.ParseLinkingInfo(raw)
		if err != nil {
			return "", err
		}
		if len(lines) == 0 {
			return "", fmt.Errorf("%w: empty %s", archive.ErrBrokenChain, archive.LinkingInfoEntry)
		}
		return lines[0].Digest, nil
	}
	return "", fmt.Errorf("%w: no %s entry", archive.ErrBrokenChain, archive.LinkingInfoEntry)
}

func decryptArchive(data []byte, keyringPath string) ([]byte, error) {
	f, err := os.Open(keyringPath)
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w", err)
	}
	defer f.Close()
	ring, err := openpgp.ReadArmoredKeyRing(f)
	if err != nil {
		return nil, fmt.Errorf("read keyring %s: %w", keyringPath, err)
	}
	return archive.Decrypt(bytes.NewReader(data), ring)
}

func runVerifyAsic(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	trust, err := timestamp.LoadTrustStore(verifyTSACerts)
	if err != nil {
		return err
	}
	c, err := asic.VerifyBytes(data, trust)
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}

	report := map[string]any{
		"file":        args[0],
		"valid":       true,
		"rest":        c.Rest,
		"attachments": len(c.Attachments),
		"batchSigned": len(c.SignatureHashChainResult) > 0,
	}
	if structured() {
		return printOutput(report)
	}
	fmt.Fprintf(out, "%s: valid (%s, %d attachments)\n", args[0], messageKind(c), len(c.Attachments))
	return nil
}

func messageKind(c *asic.Container) string {
	if c.Rest {
		return "REST"
	}
	return "SOAP"
}
