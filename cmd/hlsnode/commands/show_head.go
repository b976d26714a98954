package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	cfg "github.com/hlsnet/hls-core/config"
	"github.com/hlsnet/hls-core/store"
	"github.com/hlsnet/hls-core/types"
)

// ShowHeadCmd prints the canonical head of the local header store.
var ShowHeadCmd = &cobra.Command{
	Use:     "show-head",
	Aliases: []string{"show_head"},
	Short:   "Show the canonical head of the header store",
	RunE:    showHead,
}

type headInfo struct {
	Number uint64     `json:"number"`
	Hash   types.Hash `json:"hash"`
	Parent types.Hash `json:"parent_hash"`
	Score  string     `json:"score"`
}

func showHead(cmd *cobra.Command, args []string) error {
	db, err := cfg.DefaultDBProvider(&cfg.DBContext{ID: "headers", Config: config})
	if err != nil {
		return err
	}
	defer db.Close()

	hs, err := store.NewHeaderStore(db)
	if err != nil {
		return err
	}
	info, err := loadHeadInfo(hs)
	if err != nil {
		return fmt.Errorf("header store at %s: %w", config.DBDir(), err)
	}

	bz, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(bz))
	return nil
}

func loadHeadInfo(hs *store.HeaderStore) (*headInfo, error) {
	head, err := hs.GetCanonicalHead()
	if err != nil {
		return nil, err
	}
	score, err := hs.GetScore(head.Hash())
	if err != nil {
		return nil, err
	}
	return &headInfo{
		Number: head.Number,
		Hash:   head.Hash(),
		Parent: head.ParentHash,
		Score:  score.Dec(),
	}, nil
}
