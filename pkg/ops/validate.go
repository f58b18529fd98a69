package ops

import "github.com/nimbusblock/control-plane/pkg/reqvalidate"

// reqvalidateErr struct-tag validates req, returning a ctlerr.KindInvalidArgument
// naming resource and every failing field.
func reqvalidateErr(resource string, req any) error {
	return reqvalidate.AsInvalidArgument(resource, req)
}
