// Package acceptance runs the broker's public behavior end to end, one
// Describe block per scenario rather than one test function per
// subsystem: the same style the get_range/enter_child/realize tables in
// §6 and §8 describe it in prose.
package acceptance

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestAcceptance(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "list-broker acceptance suite")
}
