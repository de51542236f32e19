package utils

import gonanoid "github.com/matoous/go-nanoid/v2"

var (
	NanoidSize     = 24
	nanoidAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// ID prefixes make ids in logs and reconciliation reports self-describing.
const (
	PrefixOrganization = "org"
	PrefixDonor        = "dnr"
	PrefixDonation     = "don"
	PrefixHistory      = "dh"
	PrefixUnit         = "unit"
	PrefixRequest      = "req"
)

func NanoID() string {
	return NanoIDSize(NanoidSize)
}

func NanoIDSize(size int) string {
	if size == 0 {
		size = NanoidSize
	}

	return gonanoid.MustGenerate(nanoidAlphabet, size)
}

func PrefixedID(prefix string) string {
	return prefix + "_" + NanoID()
}
