// Package transcoder submits, polls, and cancels encode jobs.
//
// Two backends satisfy Transcoder: MediaConvert drives AWS Elemental
// MediaConvert against objects in the S3 bucket, and Local runs the drapto
// encoder in-process against the local blob directory. Job failures surface
// as *JobError so the workflow can classify the numeric code.
package transcoder
