package stability

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chunkah/chunkah/internal/model"
)

func TestScoreCoreSystemComponents(t *testing.T) {
	assert.Equal(t, 0.99, Score("rpm/glibc"))
	assert.Equal(t, 0.99, Score("rpm/bash"))
	assert.Equal(t, 0.97, Score("rpm/kernel-core"))
	assert.Equal(t, 0.9, Score("rpm/openssl-libs"))
}

func TestScoreGenericRPMPackage(t *testing.T) {
	assert.Equal(t, 0.5, Score("rpm/my-application"))
}

func TestScoreUnattributed(t *testing.T) {
	assert.Equal(t, 0.05, Score(model.Unattributed))
}

func TestScoreUnknownFallsBackToDefault(t *testing.T) {
	assert.Equal(t, defaultScore, Score("dpkg/some-package"))
}
