package mongodb

const (
	// TokenRecordsCollection stores one document per (subject, provider)
	// pair, tokens encrypted at rest.
	TokenRecordsCollection = "oauth_token_records"
)
