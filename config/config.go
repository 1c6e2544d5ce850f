// Config loads configuration.
package config

import (
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
)

const Version = "1.0"

// Queue and topic names. These are part of the durable wiring between the
// workers: each topic fans out into the queues subscribed to it.
const (
	TopicSubmissions = "job-submissions"
	TopicArchive     = "archive-eligibility"
	TopicRestore     = "restore-requests"
	TopicRetrieval   = "retrieval-complete"

	QueueSubmissions = "submissions"
	QueueArchive     = "archive-notifications"
	QueueRestore     = "restore-notifications"
	QueueThaw        = "retrieval-notifications"
)

// Buckets names the hot-tier buckets jobs read and write.
type Buckets struct {
	Inputs  string
	Results string
}

// LoadBuckets reads the hot-tier bucket names from the environment,
// falling back to the development defaults.
func LoadBuckets() Buckets {
	b := Buckets{
		Inputs:  os.Getenv("GENE_INPUTS_BUCKET"),
		Results: os.Getenv("GENE_RESULTS_BUCKET"),
	}
	if b.Inputs == "" {
		b.Inputs = "gene-annotation-inputs"
	}
	if b.Results == "" {
		b.Results = "gene-annotation-results"
	}
	return b
}

// GetInt loads the environment variable varName, converts it to an integer,
// and returns that integer or an error.
func GetInt(varName string) (int, error) {
	envVar := os.Getenv(varName)
	return strconv.Atoi(envVar)
}

// GetOrDefault loads the environment variable varName, or returns
// defaultVal if it is unset.
func GetOrDefault(varName string, defaultVal string) string {
	val := os.Getenv(varName)
	if val == "" {
		return defaultVal
	}
	return val
}

func GetURLOrBail(urlEnvVar string) *url.URL {
	rawURL := os.Getenv(urlEnvVar)
	if rawURL == "" {
		log.Fatal(fmt.Errorf("No URL configured. Please set %s", urlEnvVar))
	}
	parsedUrl, err := url.Parse(rawURL)
	if err != nil {
		log.Fatalf("Invalid url: %s. %s\n", rawURL, err.Error())
	}
	return parsedUrl
}

// SetMaxIdleConnsPerHost sets the MaxIdleConnsPerHost value for the default
// HTTP transport. If you are using a custom transport, calling this function
// won't change anything.
func SetMaxIdleConnsPerHost(maxConns int) {
	http.DefaultTransport.(*http.Transport).MaxIdleConnsPerHost = maxConns
}
