package memory

import (
	"testing"

	"github.com/santetogo/records-api/internal/repository"
	"github.com/santetogo/records-api/internal/repository/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) repository.Store {
		return NewStore()
	})
}
