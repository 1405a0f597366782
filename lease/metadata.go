package lease

import (
	"strconv"

	"github.com/dynoinc/kanso/objstore"
)

// Reserved metadata keys that encode a lease onto an object. Any object
// missing either key (once it has been written through this package) is
// malformed.
const (
	ownerKey  = "x-kanso-lease-owner"
	expiryKey = "x-kanso-lease-expiry"
)

// leaseMetadata returns the Metadata encoding owner and expiry (a Unix
// timestamp), replacing any metadata the object previously carried.
func leaseMetadata(owner string, expiry int64) objstore.Metadata {
	return objstore.Metadata{
		ownerKey:  owner,
		expiryKey: strconv.FormatInt(expiry, 10),
	}
}

// readLeaseMetadata decodes owner and expiry out of an object's
// metadata, failing with InvalidMetadataError if either reserved key is
// missing or the expiry isn't a decimal integer.
func readLeaseMetadata(path objstore.Path, m objstore.Metadata) (owner string, expiry int64, err error) {
	owner, ok := m.Get(ownerKey)
	if !ok {
		return "", 0, &InvalidMetadataError{Path: path, Reason: "missing " + ownerKey}
	}
	expiryStr, ok := m.Get(expiryKey)
	if !ok {
		return "", 0, &InvalidMetadataError{Path: path, Reason: "missing " + expiryKey}
	}
	expiry, parseErr := strconv.ParseInt(expiryStr, 10, 64)
	if parseErr != nil {
		return "", 0, &InvalidMetadataError{Path: path, Reason: "expiry " + strconv.Quote(expiryStr) + " is not a decimal integer"}
	}
	return owner, expiry, nil
}

// alive reports whether expiry (Unix seconds) has not yet passed as of
// now (Unix seconds).
func alive(expiry, now int64) bool {
	return expiry > now
}
