package version

const (
	// CoreSemVer is used as the fallback version of HLS Core when not using
	// git describe. It is formatted with semantic versioning.
	CoreSemVer = "0.4.0"

	// HeaderSyncProtocol versions the header sync messages exchanged with
	// peers.
	HeaderSyncProtocol uint64 = 1
)

// GitCommitHash is the commit the binary was built from, set with
// -ldflags "-X github.com/hlsnet/hls-core/version.GitCommitHash=$(git rev-parse --short HEAD)".
var GitCommitHash = ""

// String returns the version including the commit it was built from when
// known.
func String() string {
	if GitCommitHash == "" {
		return CoreSemVer
	}
	return CoreSemVer + "+" + GitCommitHash
}
