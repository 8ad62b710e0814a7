package core

import (
	"strings"
	"time"

	"github.com/zaja/SyncBackup/internal/model"
)

// On-disk naming is a compatibility surface: existing recovery workflows
// strip the _DELETED suffix by hand and sort folders by the trailing
// timestamp, so neither format may change.
const (
	folderTimestampLayout = "20060102_150405"

	baselineTag    = "_INCREMENTAL_INICIAL_"
	incrementalTag = "_INCREMENTAL_"

	// DeletedMarkerSuffix is appended to a deleted file's name when the
	// job preserves deletions. Recovery strips the suffix and moves the
	// marker back into place.
	DeletedMarkerSuffix = "_DELETED"
)

// UnitFolderName builds the destination folder name for a new unit.
func UnitFolderName(jobName string, unitType model.UnitType, ts time.Time) string {
	stamp := ts.Format(folderTimestampLayout)
	switch unitType {
	case model.UnitBaseline:
		return jobName + baselineTag + stamp
	case model.UnitIncremental:
		return jobName + incrementalTag + stamp
	default:
		return jobName + "_" + stamp
	}
}

// MatchesUnitFolder reports whether folderName follows the unit naming
// scheme for the given job: its prefix is the job name and it ends in a
// parseable timestamp. Used by the orphan scan to tell this job's folders
// apart from unrelated content in a shared destination root.
func MatchesUnitFolder(jobName, folderName string) bool {
	if !strings.HasPrefix(folderName, jobName+"_") {
		return false
	}
	if len(folderName) < len(folderTimestampLayout) {
		return false
	}
	stamp := folderName[len(folderName)-len(folderTimestampLayout):]
	_, err := time.Parse(folderTimestampLayout, stamp)
	return err == nil
}
