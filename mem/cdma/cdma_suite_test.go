package cdma_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestCDMA(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "CDMA Suite")
}
