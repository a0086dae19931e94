package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeClock_AdvanceMovesNow(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := Fake(start)
	c.Advance(9 * time.Minute)
	assert.Equal(t, start.Add(9*time.Minute), c.Now())
}

func TestFakeClock_TickerFiresOnAdvance(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	tk := c.NewTicker(30 * time.Second)
	defer tk.Stop()

	select {
	case <-tk.C:
		t.Fatal("ticker fired before Advance")
	default:
	}

	c.Advance(30 * time.Second)
	select {
	case got := <-tk.C:
		assert.Equal(t, time.Unix(30, 0).UTC(), got)
	default:
		t.Fatal("ticker did not fire")
	}
}

func TestFakeClock_StoppedTickerIsSilent(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	tk := c.NewTicker(time.Second)
	tk.Stop()
	c.Advance(5 * time.Second)
	select {
	case <-tk.C:
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestReal_NowIsUTC(t *testing.T) {
	require.Equal(t, time.UTC, Real().Now().Location())
}
