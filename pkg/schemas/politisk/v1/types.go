package politisk

// Inbound request types sent by the case management client.
const (
	FetchCommitteesType         = "no.ks.fiks.politisk.behandling.klient.hentutvalg.v1"
	FetchMeetingPlanType        = "no.ks.fiks.politisk.behandling.klient.hentmøteplan.v1"
	SubmitCommitteeCaseType     = "no.ks.fiks.politisk.behandling.klient.sendutvalgssak.v1"
	SubmitBriefingCaseType      = "no.ks.fiks.politisk.behandling.klient.sendorienteringssak.v1"
	SubmitDelegatedDecisionType = "no.ks.fiks.politisk.behandling.klient.senddelegertvedtak.v1"
)

// Reply types sent back to the client.
const (
	CommitteesResultType  = "no.ks.fiks.politisk.behandling.tjener.resultatutvalg.v1"
	MeetingPlanResultType = "no.ks.fiks.politisk.behandling.tjener.resultatmøteplan.v1"
	ReceivedType          = "no.ks.fiks.politisk.behandling.mottatt.v1"
	InvalidRequestType    = "no.ks.fiks.kvittering.ugyldigforespørsel.v1"
)

// Attachment names are shared with the counterpart and must not change.
const (
	ErrorAttachment  = "feil.txt"
	ResultAttachment = "resultat.json"

	// MissingContent is the error text for requests that arrive without a payload.
	MissingContent = "Meldingen mangler innhold"
)
