package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c := DefaultCatalog()
	list := c.List()
	require.Len(t, list, 4)

	ids := make([]string, len(list))
	for i, e := range list {
		ids[i] = e.ID
	}
	assert.Equal(t, []string{"tech-conference-2025", "gaming-tournament", "music-festival", "sports-match"}, ids)

	e, ok := c.Get("music-festival")
	require.True(t, ok)
	assert.Equal(t, StatusUpcoming, e.Status)

	_, ok = c.Get("nope")
	assert.False(t, ok)
}

func TestCreate(t *testing.T) {
	c := NewCatalog()
	c.now = func() time.Time { return time.UnixMilli(1735689600000) }

	e, err := c.Create("  Launch   Party ", "Product launch")
	require.NoError(t, err)
	assert.Equal(t, Event{
		ID:          "launch-party-1735689600000",
		Name:        "Launch   Party",
		Description: "Product launch",
		Status:      StatusUpcoming,
	}, e)
	assert.Equal(t, []Event{e}, c.List())
}

func TestCreateRequiresFields(t *testing.T) {
	c := NewCatalog()
	for _, in := range [][2]string{{"", "d"}, {"n", ""}, {"  ", "d"}} {
		_, err := c.Create(in[0], in[1])
		assert.ErrorIs(t, err, ErrInvalidEvent)
	}
	assert.Empty(t, c.List())
}

func TestListReturnsCopy(t *testing.T) {
	c := DefaultCatalog()
	list := c.List()
	list[0].Name = "changed"
	assert.Equal(t, "Tech Conference 2025", c.List()[0].Name)
}

func TestConcurrentCreate(t *testing.T) {
	c := NewCatalog()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Create("event", "desc")
			_ = c.List()
		}()
	}
	wg.Wait()
	assert.Len(t, c.List(), 20)
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "summer-music-festival", Slug("Summer Music\tFestival"))
	assert.Equal(t, "solo", Slug(" Solo "))
}
