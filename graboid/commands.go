package main

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/barnettlynn/graboid/internal/domain"
	"github.com/barnettlynn/graboid/internal/task"
	"github.com/barnettlynn/graboid/pkg/mfclassic"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored key chain and recorded tag",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := openMachine()
			if err != nil {
				return err
			}
			fmt.Printf("State: %s\n", m.State())
			if k := m.Keys(); k != nil {
				fmt.Printf("Keys:  %s (%d sectors)\n", k.Geometry(), k.SectorCount())
			} else {
				fmt.Println("Keys:  none")
			}
			if t := m.Tag(); t != nil {
				fmt.Printf("Tag:   %s UID %s\n", t.Geometry(), t.UIDString())
			} else {
				fmt.Println("Tag:   none")
			}
			return nil
		},
	}
}

func newImportKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import-keys <file|-|url>",
		Short: "Replace the key chain with a plain-text key file",
		Long: `Reads a plain-text key file (one "<keyA> <keyB>" hex line per sector)
from a path, from stdin ("-"), or from an http(s) URL, and stores it
encrypted. Any recorded tag is discarded.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, m, err := openSession()
			if err != nil {
				return err
			}
			src, err := openKeySource(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer src.Close()

			keys, err := st.ImportKeyChain(src)
			if err != nil {
				return fmt.Errorf("import %s: %w", args[0], err)
			}
			if err := m.SetKeys(keys); err != nil {
				return err
			}
			fmt.Printf("Imported %s key chain (%d sectors)\n", keys.Geometry(), keys.SectorCount())
			return nil
		},
	}
}

func newExportKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export-keys [file]",
		Short: "Write the key chain as plain text (stdout by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := openMachine()
			if err != nil {
				return err
			}
			if !m.HasKeys() {
				return fmt.Errorf("no key chain stored")
			}
			if len(args) == 0 {
				return mfclassic.WriteKeyChain(os.Stdout, m.Keys())
			}
			var buf bytes.Buffer
			if err := mfclassic.WriteKeyChain(&buf, m.Keys()); err != nil {
				return err
			}
			return os.WriteFile(args[0], buf.Bytes(), 0o600)
		},
	}
}

func newClearKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-keys",
		Short: "Delete the key chain and any recorded tag",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := openMachine()
			if err != nil {
				return err
			}
			return m.ClearKeys()
		},
	}
}

func newClearTagCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-tag",
		Short: "Delete the recorded tag",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := openMachine()
			if err != nil {
				return err
			}
			return m.ClearTag()
		},
	}
}

func newRecordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "record",
		Short: "Read every block of the presented card and store it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			m, err := openMachine()
			if err != nil {
				return err
			}
			if m.State() != domain.Clean {
				return fmt.Errorf("a tag is already recorded; run clear-tag first")
			}
			m.Activate()
			if m.State() != domain.Recording {
				return fmt.Errorf("no key chain stored; run import-keys first")
			}
			defer m.DeActivate()

			card, err := presentCard(ctx)
			if err != nil {
				return err
			}
			keys := m.Keys()
			tag, err := task.Run(ctx, "record", func(report func(int)) (*mfclassic.Tag, error) {
				return mfclassic.NewEngine(card, keys, report).Read()
			}, printProgress)
			if err != nil {
				return err
			}
			if err := m.SetTag(tag); err != nil {
				return err
			}
			fmt.Printf("Recorded %s UID %s\n", tag.Geometry(), tag.UIDString())
			return nil
		},
	}
}

func newReplayCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Write the recorded tag onto the presented card",
		Long: `Writes every block of the recorded tag except block 0 onto the presented
card, sector trailers included. The card UID must match the recorded UID
unless --force is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			m, err := openMachine()
			if err != nil {
				return err
			}
			if m.State() != domain.Loaded {
				return fmt.Errorf("no tag recorded; run record first")
			}
			m.Activate()
			if m.State() != domain.Replaying {
				return fmt.Errorf("no key chain stored; run import-keys first")
			}
			defer m.DeActivate()

			card, err := presentCard(ctx)
			if err != nil {
				return err
			}
			tag := m.Tag()
			if uid := card.UID(); len(uid) < mfclassic.UIDSize || !bytes.Equal(uid[:mfclassic.UIDSize], tag.UID()) {
				if !force {
					return fmt.Errorf("card UID %x does not match recorded UID %s (use --force to write anyway)", uid, tag.UIDString())
				}
				fmt.Fprintf(os.Stderr, "Warning: card UID %x differs from recorded UID %s\n", uid, tag.UIDString())
			}

			keys := m.Keys()
			_, err = task.Run(ctx, "replay", func(report func(int)) (struct{}, error) {
				return struct{}{}, mfclassic.NewEngine(card, keys, report).Write(tag)
			}, printProgress)
			if err != nil {
				return err
			}
			fmt.Printf("Replayed %s UID %s\n", tag.Geometry(), tag.UIDString())
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "write even if the card UID differs from the recorded UID")
	return cmd
}

func newTestKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test-keys",
		Short: "Check that both keys of every sector open the presented card",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			m, err := openMachine()
			if err != nil {
				return err
			}
			if !m.HasKeys() {
				return fmt.Errorf("no key chain stored; run import-keys first")
			}
			card, err := presentCard(ctx)
			if err != nil {
				return err
			}
			keys := m.Keys()
			ok, err := task.Run(ctx, "test-keys", func(func(int)) (bool, error) {
				return mfclassic.NewEngine(card, keys, nil).TestKeys()
			}, nil)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("key chain does not open every sector of this %s", card.Geometry())
			}
			fmt.Printf("All keys valid for %s\n", card.Geometry())
			return nil
		},
	}
}

func newFuseACLCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "fuse-acl",
		Short: "Lock the access bits of every trailer in the recorded tag",
		Long: `Rewrites the access bits of every sector trailer in the recorded tag so
that, once replayed, keys can only be changed with key B and the access
bits can never be changed again. This is irreversible on the card.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("fuse-acl is irreversible once replayed; pass --yes to confirm")
			}
			m, err := openMachine()
			if err != nil {
				return err
			}
			if err := m.FuseTagACL(); err != nil {
				return err
			}
			fmt.Printf("Fused ACL of tag UID %s\n", m.Tag().UIDString())
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the irreversible change")
	return cmd
}

func newUIDCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uid",
		Short: "Print the UID and geometry of the presented card",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			card, err := presentCard(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("UID %x  %s\n", card.UID(), card.Geometry())
			return nil
		},
	}
}

func presentCard(ctx context.Context) (*mfclassic.PCSCCard, error) {
	idx := *cfg.Runtime.ReaderIndex
	fmt.Fprintln(os.Stderr, "Present card...")
	if err := mfclassic.WaitForCard(ctx, idx, cfg.Runtime.CardTimeoutDuration()); err != nil {
		return nil, err
	}
	return mfclassic.Discover(idx)
}

func printProgress(percent int) {
	fmt.Fprintf(os.Stderr, "\r%3d%%", percent)
	if percent >= 100 {
		fmt.Fprintln(os.Stderr)
	}
}
