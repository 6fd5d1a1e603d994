// codescribe is the main CLI: analyze, sync, status, sections, serve.
//
// Usage:
//
//	codescribe analyze  [-c <config>]
//	codescribe sync     [-c <config>]
//	codescribe status   [-c <config>] [--events=N]
//	codescribe sections [-c <config>] [--key=<section>] [--set-override=<file>]
//	codescribe serve    [-c <config>]
package main
