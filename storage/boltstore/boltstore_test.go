package boltstore

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/snowflk/gridstore/storage"
	"github.com/snowflk/gridstore/storage/storagetest"
)

func TestAdapterContract(t *testing.T) {
	suite.Run(t, storagetest.NewTestSuite(func() storage.Adapter {
		return Adapter{}
	}))
}
