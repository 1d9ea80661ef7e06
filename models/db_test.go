package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInitDB_EmptyDSN(t *testing.T) {
	err := InitDB("")
	assert.ErrorContains(t, err, "mysql dsn is empty")
	assert.Nil(t, GormDB)
}
