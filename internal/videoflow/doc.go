// Package videoflow assembles the video localization workflow on top of the
// step pipeline.
//
// A run stages one input (a local file or a URL fetched by the configured
// downloader) into the working output area, then runs the configured step
// commands in order, followed by the dubbing steps when requested. Steps that
// need the local LLM run inside a supervised server scope. The working area is
// archived under the save directory on success and under the error directory
// on failure, and every attempt is recorded in the run history.
package videoflow
