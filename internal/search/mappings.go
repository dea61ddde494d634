package search

// SectionMapping is the schema for the per-section index. The nested
// sections field is what makes per-section more-like-this retrieval
// with inner hits possible.
const SectionMapping = `{
  "mappings": {
    "properties": {
      "id": {"type": "keyword"},
      "congress": {"type": "keyword"},
      "session": {"type": "keyword"},
      "dctitle": {"type": "text"},
      "date": {"type": "date", "ignore_malformed": true},
      "legisnum": {"type": "keyword"},
      "billnumber": {"type": "keyword"},
      "billversion": {"type": "keyword"},
      "length": {"type": "integer"},
      "headers": {"type": "text"},
      "sections": {
        "type": "nested",
        "properties": {
          "section_id": {"type": "keyword"},
          "section_number": {"type": "keyword"},
          "section_header": {"type": "text"},
          "section_text": {"type": "text"},
          "section_xml": {"type": "text", "index": false},
          "section_length": {"type": "integer"}
        }
      }
    }
  }
}`

// BillFullMapping is the schema for the whole-bill index.
const BillFullMapping = `{
  "mappings": {
    "properties": {
      "id": {"type": "keyword"},
      "congress": {"type": "keyword"},
      "session": {"type": "keyword"},
      "dctitle": {"type": "text"},
      "date": {"type": "date", "ignore_malformed": true},
      "legisnum": {"type": "keyword"},
      "billnumber": {"type": "keyword"},
      "billversion": {"type": "keyword"},
      "length": {"type": "integer"},
      "headers": {"type": "text"},
      "bill_text": {"type": "text"}
    }
  }
}`
