package configuration

import (
	"sync"
	"testing"

	"github.com/pdellaert/fbw-installer/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreAddRemove(t *testing.T) {
	s := NewStore(models.Publisher{Key: "flybywire", Name: "FlyByWire Simulations"})

	s.AddPublisher(models.Publisher{Key: "acme", Name: "Acme"})
	require.Len(t, s.Publishers(), 2)

	p, ok := s.Publisher("acme")
	require.True(t, ok)
	assert.Equal(t, "Acme", p.Name)

	s.RemovePublisher(models.Publisher{Key: "acme", Name: "a different name"})
	_, ok = s.Publisher("acme")
	assert.False(t, ok, "removal matches on key only")
	assert.Len(t, s.Publishers(), 1)
}

func TestStoreRemoveAbsentIsNoop(t *testing.T) {
	s := NewStore(models.Publisher{Key: "flybywire"})
	calls := 0
	s.OnChange(func([]models.Publisher) { calls++ })

	s.RemovePublisher(models.Publisher{Key: "missing"})

	assert.Len(t, s.Publishers(), 1)
	assert.Equal(t, 0, calls)
}

func TestStorePublishersReturnsCopy(t *testing.T) {
	s := NewStore(models.Publisher{Key: "flybywire", Name: "FBW"})

	list := s.Publishers()
	list[0].Name = "changed"

	p, _ := s.Publisher("flybywire")
	assert.Equal(t, "FBW", p.Name)
}

func TestStoreOnChange(t *testing.T) {
	s := NewStore()
	var seen [][]models.Publisher
	s.OnChange(func(p []models.Publisher) { seen = append(seen, p) })

	s.AddPublisher(models.Publisher{Key: "a"})
	s.AddPublisher(models.Publisher{Key: "b"})
	s.RemovePublisher(models.Publisher{Key: "a"})

	require.Len(t, seen, 3)
	assert.Len(t, seen[1], 2)
	assert.Equal(t, "b", seen[2][0].Key)
}

func TestStoreConcurrentAccess(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a' + i))
			s.AddPublisher(models.Publisher{Key: key})
			_ = s.Publishers()
		}(i)
	}
	wg.Wait()
	assert.Len(t, s.Publishers(), 20)
}
