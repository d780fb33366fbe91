package cache

// resultVersion changes whenever models.JobResult changes shape.
const resultVersion = "v1"

func ResultKey(jobID string) string {
	return "result:" + resultVersion + ":" + jobID
}

func RateLimitKey(client string) string {
	return "ratelimit:" + client
}
