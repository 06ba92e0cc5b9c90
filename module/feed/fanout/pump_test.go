package fanout

import (
	"errors"
	"sync"
	"testing"

	"PPNotify/module/feed/model"

	"github.com/stretchr/testify/assert"
)

type recordingSink struct {
	mu   sync.Mutex
	ids  []uint32
	fail bool
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Mirror(n model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, n.ID)
	if s.fail {
		return errors.New("sink down")
	}
	return nil
}

type panickingSink struct{}

func (panickingSink) Name() string                    { return "panicking" }
func (panickingSink) Mirror(model.Notification) error { panic("boom") }

func TestPump_DeliversInOrder(t *testing.T) {
	s := &recordingSink{fail: true}
	p := NewPump(16, panickingSink{}, s)
	for i := uint32(0); i < 10; i++ {
		assert.True(t, p.Offer(model.Notification{ID: i}))
	}
	p.Close()

	assert.Equal(t, []uint32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, s.ids)
	assert.False(t, p.Offer(model.Notification{ID: 10}), "closed pump refuses work")
	p.Close()
}

func TestPump_NoSinks(t *testing.T) {
	p := NewPump(0)
	assert.False(t, p.Offer(model.Notification{}))
	p.Close()
}
