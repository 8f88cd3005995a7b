package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/caribu66/veruspulse-sub005/pkg/api"
	"github.com/caribu66/veruspulse-sub005/pkg/livesync"
	"github.com/caribu66/veruspulse-sub005/pkg/merge"
	"github.com/caribu66/veruspulse-sub005/pkg/stats"
)

var errOffline = errors.New("offline")

func TestSummarySinkKeepsLastGoodItemsOnError(t *testing.T) {
	s := newSummarySink()
	s.Blocks(livesync.Update[api.Block]{Key: livesync.KeyBlocks, Items: []api.Block{{Hash: "aa", Height: 7, Time: 1}}})
	s.Blocks(livesync.Update[api.Block]{Key: livesync.KeyBlocks, Err: errOffline})

	if len(s.blocks) != 1 || s.blocks[0].Height != 7 {
		t.Fatalf("blocks = %+v, want the last good block", s.blocks)
	}
	if !errors.Is(s.errs[livesync.KeyBlocks], errOffline) {
		t.Fatalf("errs = %v", s.errs)
	}

	s.Blocks(livesync.Update[api.Block]{Key: livesync.KeyBlocks, Items: []api.Block{{Hash: "bb", Height: 8, Time: 2}}})
	if _, ok := s.errs[livesync.KeyBlocks]; ok {
		t.Error("error should clear after a successful update")
	}
}

func TestSummarySinkPrint(t *testing.T) {
	now := time.Unix(1_700_000_100, 0)
	s := newSummarySink()
	s.Blocks(livesync.Update[api.Block]{Key: livesync.KeyBlocks, Items: []api.Block{
		{Hash: "00000000deadbeefcafe", Height: 42, Time: 1_700_000_000, TxCount: 3, Type: "pos"},
	}})
	s.Mempool(livesync.Update[api.Mempool]{Key: livesync.KeyMempool, Items: []api.Mempool{{Size: 5, Bytes: 900}}})
	s.Activity(livesync.Update[api.ActivityEvent]{Key: livesync.KeyActivity, Items: []api.ActivityEvent{
		{ID: "e1", Type: "stake", Identity: "alice@", Amount: decimal.NewFromInt(12), Height: 42, Time: 1},
	}})
	s.Staking(livesync.Update[merge.ViewModel]{Key: livesync.StakingKey("bob@"), Items: []merge.ViewModel{
		merge.Merge(map[string]any{"identity": "bob@", "balance": "10"}, map[string]any{"stakeCount": 2}, livesync.StakingTable),
	}})
	s.Trending(livesync.Update[api.TrendingIdentity]{Key: livesync.KeyTrending, Err: errOffline})

	sizes := stats.NewSeries(4)
	sizes.Add(now, 5)

	var buf bytes.Buffer
	s.print(&buf, stats.NewActivity().Snapshot(), sizes, now)
	out := buf.String()

	for _, want := range []string{
		"Latest blocks",
		"42",
		"1m40s",
		"Mempool  5 txs  900 bytes",
		"alice@",
		"Staking",
		"bob@",
		"error: trending_data: offline",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestSummarySinkOmitsEmptyStaking(t *testing.T) {
	var buf bytes.Buffer
	newSummarySink().print(&buf, stats.NewActivity().Snapshot(), stats.NewSeries(1), time.Now())
	if strings.Contains(buf.String(), "Staking") {
		t.Errorf("staking section printed without identities:\n%s", buf.String())
	}
}
