package app

const (
	Name           = "rttgcs"
	ConfigFilename = "config.json"
	DBFilename     = "session.db"
	LogFilename    = "app.log"
)
