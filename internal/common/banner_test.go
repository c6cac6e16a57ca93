package common

import "testing"

func TestPrintBanner(t *testing.T) {
	PrintBanner(GetVersion())
}
