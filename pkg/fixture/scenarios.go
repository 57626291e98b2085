package fixture

import (
	"bytes"
	"sort"
	"strconv"
)

// Date is the Date value every canned response carries.
const Date = "Tue, 29 Oct 2024 16:56:32 GMT"

// Body is the body of the small canned responses.
const Body = "Hello World!"

// Reply builds a script writing the status line, each field line and the end of the head
// as separate writes, then the body.
func Reply(name, status string, fields []string, body []byte) Script {
	chunks := [][]byte{[]byte(status + "\r\n")}
	for _, f := range fields {
		chunks = append(chunks, []byte(f+"\r\n"))
	}
	chunks = append(chunks, []byte("\r\n"))
	if len(body) > 0 {
		chunks = append(chunks, body)
	}
	return Script{Name: name, Chunks: chunks}
}

// Raw builds a script from lines written verbatim, one write each.
func Raw(name string, lines ...string) Script {
	chunks := make([][]byte, len(lines))
	for i, l := range lines {
		chunks[i] = []byte(l)
	}
	return Script{Name: name, Chunks: chunks}
}

func hello(name string, cacheControl *string) Script {
	fields := []string{"Content-Length: 12", "Date: " + Date}
	if cacheControl != nil {
		fields = append(fields, "Cache-Control: "+*cacheControl)
	}
	return Reply(name, "HTTP/1.1 200 OK", fields, []byte(Body))
}

// Simple replies with a 12 byte body and a Date.
func Simple() Sequence {
	return Sequence{Scripts: []Script{hello("simple", nil)}}
}

// CacheControlSamples are the Cache-Control values served by CacheControlSamples. Only
// the first samples, where "private" is a whole directive, forbid storing.
var CacheControlSamples = []string{
	"a=b,c=d,e=f,\t private ,g=d",
	"a=b,c=d,e=f,private\t,g=d",
	"!,#,$,%%#,+=##!,$=%%%,yes=',no=`,private",
	"hello=\t\"hello world abcdefg\" ,    hello2=\"abc\\\"efg\",private",
	"hello=\"abc\\=efg\",private",
	"hello=\"abc\\\\efg\",private",
	"\thello=\"abc\\!efg\",    \t   private\t",
	"hello=\"abc\\'efg\"   ,private",
	"FDSFSDg*FD12=\"abc\\'#!@G&*(@!)efg\"   ,PRiVAtE",
	"PRIVATE\t,FDSFSDg*FD12=\"abc\\'#!@G&*(@!)efg\"\t\t",
	"\t\tprivaTE\t,FDSFSDg*FD12=\"abc\\'#!@G&*(@!)efg\"  \t ",
	"PRIvvATE\t,FDSFSDg*FD12=\"abc\\'#!@G&*(@!)efg\"\t\t",
	"\t\tpriva!TE\t,FDSFSDg*FD12=\"abc\\'#!@G&*(@!)efg\"  \t ",
	"FDSFSDg*FD12=\"abc\\'#!@G&*(@!)privateefg\"  \t ",
}

// PrivateSamples is the number of leading CacheControlSamples containing a private
// directive.
const PrivateSamples = 11

// CacheControls cycles through CacheControlSamples.
func CacheControls() Sequence {
	seq := Sequence{Cycle: true}
	for i := range CacheControlSamples {
		seq.Scripts = append(seq.Scripts, hello("cache-control-"+strconv.Itoa(i), &CacheControlSamples[i]))
	}
	return seq
}

// RevalidationDirectives are served twice each by Revalidation.
var RevalidationDirectives = []string{
	"private", "no-cache", "no-store", "max-age=0", "must-revalidate", "proxy-revalidate",
}

// Revalidation serves every directive of RevalidationDirectives twice in a row, so a
// caching client has to go to the origin for each request.
func Revalidation() Sequence {
	var seq Sequence
	for i := range RevalidationDirectives {
		s := hello("revalidate-"+RevalidationDirectives[i], &RevalidationDirectives[i])
		seq.Scripts = append(seq.Scripts, s, s)
	}
	return seq
}

// MaxAge always replies with an unknown directive followed by max-age=5.
func MaxAge() Sequence {
	cc := "abc,max-age=5"
	return Sequence{Scripts: []Script{hello("max-age", &cc)}}
}

// LongBody is the body size of the oversized sample in Long, one byte past what a
// 100 KiB cache entry may hold.
const LongBody = 102401

// Long cycles through responses with and without max-age, including one whose body is
// too large to cache.
func Long() Sequence {
	samples := []string{"private,max-age=5", "", "max-age=5", "private", "", "max-age=5", "long", ""}
	seq := Sequence{Cycle: true}
	for i := range samples {
		sample := samples[i]
		name := "long-" + strconv.Itoa(i)
		if sample == "long" {
			seq.Scripts = append(seq.Scripts, Reply(name, "HTTP/1.1 200 OK", []string{
				"Content-Length: " + strconv.Itoa(LongBody),
				"Date: " + Date,
				"Cache-Control: long",
			}, bytes.Repeat([]byte{'0'}, LongBody)))
			continue
		}
		seq.Scripts = append(seq.Scripts, Reply(name, "HTTP/1.1 200 OK", []string{
			"Content-Length: 12",
			"Date: " + Date,
			"Cache-Control: " + sample,
		}, []byte(Body)))
	}
	return seq
}

// Crash replies with a valid response, one without Date, two with malformed status lines
// and valid responses from then on.
func Crash() Sequence {
	ok := Reply("crash-ok", "HTTP/1.1 200 OK",
		[]string{"Date: " + Date, "Content-Length: 12"}, []byte(Body))
	return Sequence{Scripts: []Script{
		ok,
		Reply("crash-no-date", "HTTP/1.1 200 OK", []string{"Content-Length: 12"}, []byte(Body)),
		Raw("crash-bare-number",
			"3412\r\n", "Date: "+Date+"\r\n", "Content-Length: 12\r\n", "\r\n", Body),
		Raw("crash-bad-version",
			"HTTP 2312 Ofds\r\n", "fasdkjhf asdf s\r\n", "Date: "+Date+"\r\n", "Content-Length: 12\r\n", "\r\n", Body),
		ok,
	}}
}

// Truncated declares declared bytes and sends only sent of them.
func Truncated(declared, sent int) Sequence {
	return Sequence{Scripts: []Script{Reply("truncated", "HTTP/1.1 200 OK", []string{
		"Date: " + Date,
		"Content-Length: " + strconv.Itoa(declared),
	}, bytes.Repeat([]byte{'x'}, sent))}}
}

// HugeLength and HugeChunk are the defaults of the gigabyte scenario.
const (
	HugeLength = 2_000_000_000
	HugeChunk  = 100_000
)

// Huge declares length bytes of zeros and streams them in chunk sized writes without
// holding the body in memory.
func Huge(length int64, chunk int) Sequence {
	s := Reply("huge", "HTTP/1.1 200 OK", []string{
		"Date: " + Date,
		"Content-Length: " + strconv.FormatInt(length, 10),
	}, nil)
	s.Stream = &Stream{Length: length, Chunk: chunk}
	return Sequence{Scripts: []Script{s}}
}

var scenarios = map[string]func() Sequence{
	"simple":        Simple,
	"cache-control": CacheControls,
	"revalidate":    Revalidation,
	"max-age":       MaxAge,
	"long":          Long,
	"crash":         Crash,
	"huge":          func() Sequence { return Huge(HugeLength, HugeChunk) },
}

// Named returns the scenario registered as name.
func Named(name string) (Sequence, bool) {
	f, ok := scenarios[name]
	if !ok {
		return Sequence{}, false
	}
	return f(), true
}

// Names lists the registered scenarios.
func Names() []string {
	names := make([]string, 0, len(scenarios))
	for name := range scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
