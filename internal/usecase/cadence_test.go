package usecase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCadence_Due(t *testing.T) {
	c := NewCadence(5 * time.Minute)

	assert.True(t, c.Due(testNow), "first call runs")
	assert.False(t, c.Due(testNow.Add(time.Minute)))
	assert.False(t, c.Due(testNow.Add(4*time.Minute+59*time.Second)))
	assert.True(t, c.Due(testNow.Add(5*time.Minute)))
	assert.Equal(t, testNow.Add(5*time.Minute), c.Last())
	assert.False(t, c.Due(testNow.Add(6*time.Minute)))
}
