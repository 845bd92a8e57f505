package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeAfterFiresOnAdvance(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	ch := c.After(10 * time.Millisecond)

	c.Advance(5 * time.Millisecond)
	select {
	case <-ch:
		t.Fatal("timer fired before deadline")
	default:
	}

	c.Advance(5 * time.Millisecond)
	select {
	case <-ch:
	default:
		t.Fatal("timer did not fire at deadline")
	}
}

func TestFakeTickerFiresRepeatedly(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	ticker := c.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	c.Advance(25 * time.Millisecond)

	count := 0
	for {
		select {
		case <-ticker.C():
			count++
		default:
			require.GreaterOrEqual(t, count, 1)
			return
		}
	}
}

func TestFakeTickerStopsFiring(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	ticker := c.NewTicker(10 * time.Millisecond)
	ticker.Stop()

	c.Advance(50 * time.Millisecond)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestFakeNowAdvances(t *testing.T) {
	start := time.Unix(100, 0)
	c := NewFake(start)
	assert.Equal(t, start, c.Now())
	c.Advance(3 * time.Second)
	assert.Equal(t, start.Add(3*time.Second), c.Now())
}
