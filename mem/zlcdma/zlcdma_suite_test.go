package zlcdma_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestZLCDMA(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "ZLCDMA Suite")
}
