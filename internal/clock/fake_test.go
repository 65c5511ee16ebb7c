package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeAfterFuncFiresInDeadlineOrder(t *testing.T) {
	c := NewFake(epoch)
	var fired []string
	var at []time.Duration

	c.AfterFunc(3*time.Second, func() {
		fired = append(fired, "late")
		at = append(at, c.Now().Sub(epoch))
	})
	c.AfterFunc(1*time.Second, func() {
		fired = append(fired, "early")
		at = append(at, c.Now().Sub(epoch))
	})

	c.Advance(2 * time.Second)
	assert.Equal(t, []string{"early"}, fired)
	assert.Equal(t, epoch.Add(2*time.Second), c.Now())

	c.Advance(5 * time.Second)
	assert.Equal(t, []string{"early", "late"}, fired)
	assert.Equal(t, []time.Duration{time.Second, 3 * time.Second}, at)
	assert.Equal(t, epoch.Add(7*time.Second), c.Now())
}

func TestFakeAfterFuncStop(t *testing.T) {
	c := NewFake(epoch)
	called := false
	timer := c.AfterFunc(time.Second, func() { called = true })

	assert.Equal(t, 1, c.PendingCount())
	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())

	c.Advance(time.Minute)
	assert.False(t, called)
	assert.Equal(t, 0, c.PendingCount())
}

func TestFakeCallbackCanRearm(t *testing.T) {
	c := NewFake(epoch)
	count := 0
	var arm func()
	arm = func() {
		c.AfterFunc(time.Second, func() {
			count++
			arm()
		})
	}
	arm()

	c.Advance(5 * time.Second)
	assert.Equal(t, 5, count)
}

func TestFakeAfter(t *testing.T) {
	c := NewFake(epoch)
	ch := c.After(time.Second)

	select {
	case <-ch:
		t.Fatal("fired early")
	default:
	}

	c.Advance(time.Second)
	select {
	case got := <-ch:
		assert.Equal(t, epoch.Add(time.Second), got)
	default:
		t.Fatal("did not fire")
	}
}
