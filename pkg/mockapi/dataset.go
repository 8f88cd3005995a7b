package mockapi

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/caribu66/veruspulse-sub005/pkg/api"
)

var identityNames = []string{
	"alice", "bob", "carol", "dave", "erin", "frank", "grace", "heidi",
	"ivan", "judy", "mallory", "oscar",
}

// dataset is the generated chain state. Callers hold Server.mu.
type dataset struct {
	rng        *rand.Rand
	baseTime   int64
	blocks     []api.Block
	activity   []api.ActivityEvent
	identities []api.VerusID
	staking    map[string]stakingRecord
	nextEvent  int
}

type stakingRecord struct {
	live api.StakingLive
	hist api.StakingHistorical
}

func newDataset(seed uint64, baseTime int64, height int64) *dataset {
	d := &dataset{
		rng:      rand.New(rand.NewPCG(seed, seed^0x5eed)),
		baseTime: baseTime,
		staking:  make(map[string]stakingRecord),
	}

	for i, name := range identityNames {
		addr := "i" + strings.ToUpper(hashHex(name)[:33])
		balance := decimal.NewFromInt(int64(d.rng.IntN(9000000) + 10000)).Shift(-2)
		d.identities = append(d.identities, api.VerusID{
			Name:             name,
			FullyQualified:   name + ".VRSC@",
			Address:          addr,
			PrimaryAddresses: []string{"R" + strings.ToUpper(hashHex("p"+name)[:33])},
			Balance:          balance,
			BlockHeight:      int64(1000 + i*137),
			Featured:         i < 4,
		})
		d.staking[addr] = d.stakingFor(addr, balance)
	}

	start := height - 19
	if start < 0 {
		start = 0
	}
	for h := start; h <= height; h++ {
		d.pushBlock(h)
	}
	for i := 0; i < 15; i++ {
		d.pushActivity()
	}
	return d
}

func (d *dataset) stakingFor(addr string, balance decimal.Decimal) stakingRecord {
	enabled := d.rng.IntN(4) != 0
	apy := 3 + d.rng.Float64()*5
	count := d.rng.IntN(200)
	rewards := decimal.NewFromInt(int64(count) * 12).Add(decimal.NewFromFloat(d.rng.Float64()).Round(8))
	eligible := balance.Mul(decimal.NewFromFloat(0.9)).Round(8)
	first := d.baseTime - int64(86400*(30+d.rng.IntN(300)))
	last := d.baseTime - int64(d.rng.IntN(86400))

	rec := stakingRecord{
		live: api.StakingLive{
			Identity:       addr,
			Balance:        &balance,
			Eligible:       &eligible,
			StakingEnabled: &enabled,
			Height:         0,
		},
		hist: api.StakingHistorical{
			Identity:     addr,
			Balance:      &balance,
			TotalRewards: &rewards,
			StakeCount:   &count,
			FirstStake:   &first,
			LastStake:    &last,
			APY:          &apy,
		},
	}
	if count == 0 {
		rec.hist.FirstStake, rec.hist.LastStake = nil, nil
	}
	return rec
}

func (d *dataset) head() api.Block {
	return d.blocks[0]
}

// pushBlock prepends a block at height h and moves staking heights to it.
// It does not record activity.
func (d *dataset) pushBlock(h int64) api.Block {
	kind := "pow"
	if d.rng.IntN(2) == 0 {
		kind = "pos"
	}
	b := api.Block{
		Hash:       hashHex(fmt.Sprintf("block-%d", h)),
		Height:     h,
		Time:       d.baseTime + h*60,
		TxCount:    1 + d.rng.IntN(40),
		Size:       800 + d.rng.IntN(40000),
		Difficulty: 1e9 + d.rng.Float64()*1e9,
		Type:       kind,
	}
	d.blocks = append([]api.Block{b}, d.blocks...)
	if len(d.blocks) > 50 {
		d.blocks = d.blocks[:50]
	}
	for addr, rec := range d.staking {
		rec.live.Height = h
		d.staking[addr] = rec
	}
	return b
}

// pushActivity prepends one activity event.
func (d *dataset) pushActivity() api.ActivityEvent {
	kinds := []string{"stake", "block", "identity", "transfer"}
	id := d.identities[d.rng.IntN(len(d.identities))]
	d.nextEvent++
	e := api.ActivityEvent{
		ID:       fmt.Sprintf("evt-%06d", d.nextEvent),
		Type:     kinds[d.rng.IntN(len(kinds))],
		Identity: id.Name + "@",
		Amount:   decimal.NewFromInt(int64(d.rng.IntN(500000))).Shift(-4),
		Height:   d.head().Height,
		Time:     d.head().Time,
	}
	d.activity = append([]api.ActivityEvent{e}, d.activity...)
	if len(d.activity) > 100 {
		d.activity = d.activity[:100]
	}
	return e
}

func (d *dataset) mempool() api.Mempool {
	n := d.rng.IntN(25)
	m := api.Mempool{Size: n}
	for i := 0; i < n; i++ {
		size := 200 + d.rng.IntN(3000)
		m.Bytes += int64(size)
		m.Transactions = append(m.Transactions, api.MempoolTx{
			Txid: hashHex(fmt.Sprintf("tx-%d-%d-%d", d.head().Height, i, d.rng.Int())),
			Size: size,
			Fee:  decimal.NewFromInt(int64(size)).Shift(-8),
			Time: d.head().Time,
		})
	}
	m.Usage = m.Bytes * 2
	return m
}

func (d *dataset) trending() []api.TrendingIdentity {
	out := make([]api.TrendingIdentity, 0, 10)
	for i, id := range d.identities {
		if i >= 10 {
			break
		}
		rec := d.staking[id.Address]
		out = append(out, api.TrendingIdentity{
			Name:       id.Name,
			Address:    id.Address,
			Score:      float64(*rec.hist.StakeCount) * (1 + float64(i%3)),
			StakeCount: *rec.hist.StakeCount,
			Rewards:    *rec.hist.TotalRewards,
		})
	}
	sortTrending(out)
	return out
}

func sortTrending(out []api.TrendingIdentity) {
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	for i := range out {
		out[i].Rank = i + 1
	}
}

func (d *dataset) featured() []api.VerusID {
	var out []api.VerusID
	for _, id := range d.identities {
		if id.Featured {
			out = append(out, id)
		}
	}
	return out
}

// lookup finds an identity by name (case-insensitive, optional "@" or
// ".VRSC@" suffix) or by address.
func (d *dataset) lookup(q string) (api.VerusID, bool) {
	q = strings.TrimSpace(q)
	name := strings.ToLower(q)
	name = strings.TrimSuffix(name, "@")
	name = strings.TrimSuffix(name, ".vrsc")
	for _, id := range d.identities {
		if id.Name == name || id.Address == q {
			return id, true
		}
	}
	return api.VerusID{}, false
}

func hashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
