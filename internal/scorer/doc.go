// Package scorer measures how closely a converted file matches its source.
//
// FFmpeg runs ffmpeg's ssim filter over the pair and returns the average
// similarity together with both object sizes as a quality.Result. Objects
// in a local blob directory are read in place; remote objects are fetched
// into a scratch directory first.
package scorer
