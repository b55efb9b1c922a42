/*
Copyright (c) 2025 Mike Lane

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in all
copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
SOFTWARE.
*/

// Package mesh derives the federated gateway configuration from discovered
// endpoints and publishes it to a ConfigMap.
//
// The configuration is a pure function of the current endpoint snapshot:
// GraphQL-native services become remote-schema entries, services with an
// accepted OpenAPI/Swagger document become wrapped-REST entries, and nothing
// accumulates across ticks. The ConfigMap is only written when the rendered
// content differs structurally from the last applied configuration, which
// keeps downstream GitOps reconciliation quiet on no-op ticks. Writes go
// through a single CreateOrUpdate call so readers never observe a half
// written document.
package mesh
