package politisk

import (
	"embed"
	"io/fs"
)

// Schema document names, relative to Schemas().
const (
	FetchMeetingPlanSchema    = "hentmoteplan.v1.schema.json"
	MeetingPlanResultSchema   = "resultatmoteplan.v1.schema.json"
	SubmitCommitteeCaseSchema = "sendutvalgssak.v1.schema.json"
	SubmitBriefingCaseSchema  = "sendorienteringssak.v1.schema.json"
	CommitteesResultSchema    = "resultatutvalg.v1.schema.json"
)

// Result document names, relative to Results().
const (
	MeetingPlanResult = "resultatmoteplan.json"
	CommitteesResult  = "resultatutvalg.json"
)

//go:embed schema/*.schema.json
var schemaFiles embed.FS

//go:embed results/*.json
var resultFiles embed.FS

// Schemas returns the bundled JSON schema documents.
func Schemas() fs.FS { return mustSub(schemaFiles, "schema") }

// Results returns the bundled result documents served by the fetch requests.
func Results() fs.FS { return mustSub(resultFiles, "results") }

func mustSub(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(err)
	}
	return sub
}
